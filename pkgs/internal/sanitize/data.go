package sanitize

import "bytes"

var bom = []byte{0xEF, 0xBB, 0xBF}

// Envelope sanitizes an envelope received from a gateway
// before decoding. It removes a leading UTF-8 BOM and the
// surrounding whitespace, including the trailing '\n' and '\r'
// line based gateways append.
func Envelope(data []byte) []byte {

	data = bytes.TrimPrefix(data, bom)

	return bytes.TrimSpace(data)
}
