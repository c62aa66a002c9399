package gateway

import "regexp"

// Address is a parsed PLC bit address of the form DB{db}.DBX{byte}.{bit}.
type Address struct {
	DB   int `json:"db"`
	Byte int `json:"byte"`
	Bit  int `json:"bit"`
}

var addressPattern = regexp.MustCompile(`^DB(\d+)\.DBX(\d+)\.(\d+)$`)

// ParseAddress extracts db/byte/bit components from a typed address string.
// Malformed input falls back to the zero address (db=0, byte=0, bit=0)
// instead of erroring; the engine must never crash on a bad address.
func ParseAddress(s string) Address {
	m := addressPattern.FindStringSubmatch(s)
	if m == nil {
		return Address{}
	}
	return Address{
		DB:   atoi(m[1]),
		Byte: atoi(m[2]),
		Bit:  atoi(m[3]),
	}
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
