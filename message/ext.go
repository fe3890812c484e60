package message

import "github.com/vmihailenco/msgpack/v5"

// Ext is a MessagePack extension value the codec has no Go type for. It is
// carried as is, so a peer's ext payload reaches the application and goes
// back out byte for byte.
//
// The timestamp extension (type -1) decodes to time.Time instead.
type Ext struct {
	Type int8
	Data []byte
}

// EncodeMsgpack writes the ext header and the raw data.
func (e Ext) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeExtHeader(e.Type, len(e.Data)); err != nil {
		return err
	}
	_, err := enc.Writer().Write(e.Data)
	return err
}
