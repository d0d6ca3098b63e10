package isoembed

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/coreos/coreos-installer-go/internal/iso9660"
)

const minisoDataPath = "COREOS/MINISO.DAT"

// MinisoDataFile locates the reserved miniso payload file inside a full
// live ISO. The file is pre-allocated at image build time; pack writes the
// serialized delta into it and extract reads it back out.
func MinisoDataFile(iso *iso9660.IsoFs) (iso9660.File, error) {
	entry, err := iso.GetPath(minisoDataPath)
	if err != nil {
		return iso9660.File{}, errors.Wrap(err, "this ISO image does not include a miniso data file")
	}
	return entry.AsFile()
}

// ReadMinisoData returns the embedded miniso payload bytes of a full ISO.
func ReadMinisoData(r io.ReaderAt, iso *iso9660.IsoFs) ([]byte, error) {
	f, err := MinisoDataFile(iso)
	if err != nil {
		return nil, err
	}
	data := make([]byte, f.Length)
	if _, err := r.ReadAt(data, f.Offset()); err != nil {
		return nil, errors.Wrap(err, "reading miniso data file")
	}
	return data, nil
}

// WriteMinisoData stores payload in the ISO's reserved miniso data file,
// zero-padding the remainder of the reserved space. An oversized payload is
// an error, not a truncation.
func WriteMinisoData(rw io.ReadWriteSeeker, iso *iso9660.IsoFs, payload []byte) error {
	f, err := MinisoDataFile(iso)
	if err != nil {
		return err
	}
	if len(payload) > int(f.Length) {
		return errors.Errorf("miniso data too large for reserved file: %d vs %d", len(payload), f.Length)
	}
	padded := make([]byte, f.Length)
	copy(padded, payload)
	if _, err := rw.Seek(f.Offset(), io.SeekStart); err != nil {
		return errors.Wrapf(err, "seeking to %s", minisoDataPath)
	}
	if _, err := rw.Write(padded); err != nil {
		return errors.Wrapf(err, "writing %s", minisoDataPath)
	}
	return nil
}

// SetDefaultKargs rewrites only the "default" field of COREOS/KARGS.JSO in
// place, space-padded to the descriptor's original on-disk length. It exists
// solely for miniso minimal-ISO generation, which strips kargs from the
// default set without otherwise touching the karg embed area layout.
func SetDefaultKargs(rw io.ReadWriteSeeker, iso *iso9660.IsoFs, newDefault string) error {
	entry, err := iso.GetPath(kargEmbedInfoPath)
	if err != nil {
		return errors.Wrap(err, "minimal ISO does not have kargs.json; please report this as a bug")
	}
	f, err := entry.AsFile()
	if err != nil {
		return err
	}

	raw, err := io.ReadAll(iso.ReadFile(f))
	if err != nil {
		return errors.Wrap(err, "reading kargs embed area info")
	}
	var info kargEmbedInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return errors.Wrap(err, "decoding kargs embed area info")
	}
	info.Default = newDefault

	encoded, err := json.Marshal(&info)
	if err != nil {
		return errors.Wrap(err, "serializing kargs embed area info")
	}
	if len(encoded) > int(f.Length) {
		return errors.Errorf("new version of %s does not fit in space (%d vs %d)", kargEmbedInfoPath, len(encoded), f.Length)
	}

	padded := make([]byte, f.Length)
	copy(padded, encoded)
	for i := len(encoded); i < len(padded); i++ {
		padded[i] = ' '
	}

	if _, err := rw.Seek(f.Offset(), io.SeekStart); err != nil {
		return errors.Wrapf(err, "seeking to %s", kargEmbedInfoPath)
	}
	if _, err := rw.Write(padded); err != nil {
		return errors.Wrapf(err, "writing %s", kargEmbedInfoPath)
	}
	return nil
}
