package squads

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// errWriter keeps the first encoding error so callers can write a whole
// layout and check once.
type errWriter struct {
	enc *bin.Encoder
	err error
}

func (w *errWriter) do(f func() error) {
	if w.err == nil {
		w.err = f()
	}
}

func (w *errWriter) u8(v uint8)   { w.do(func() error { return w.enc.WriteUint8(v) }) }
func (w *errWriter) u16(v uint16) { w.do(func() error { return w.enc.WriteUint16(v, bin.LE) }) }
func (w *errWriter) raw(b []byte) { w.do(func() error { return w.enc.WriteBytes(b, false) }) }

type errReader struct {
	dec *bin.Decoder
	err error
}

func (r *errReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	r.err = err
	return v
}

func (r *errReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint16(bin.LE)
	r.err = err
	return v
}

func (r *errReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n == 0 {
		return []byte{}
	}
	b, err := r.dec.ReadNBytes(n)
	r.err = err
	return append([]byte(nil), b...)
}

func (r *errReader) key() solana.PublicKey {
	return solana.PublicKeyFromBytes(r.bytes(solana.PublicKeyLength))
}
