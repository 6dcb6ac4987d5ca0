package ledger

import (
	"crypto/sha512"
	"strconv"
)

// deepHash implements the ledger's recursive SHA-384 commitment over nested
// byte chunks. A chunk is either []byte or [][]byte.
func deepHash(chunk any) []byte {
	switch c := chunk.(type) {
	case []byte:
		tag := sha384([]byte("blob" + strconv.Itoa(len(c))))
		return sha384(append(tag, sha384(c)...))
	case [][]byte:
		acc := sha384([]byte("list" + strconv.Itoa(len(c))))
		for _, item := range c {
			acc = sha384(append(acc, deepHash(item)...))
		}
		return acc
	default:
		panic("deepHash: unsupported chunk type")
	}
}

func sha384(data []byte) []byte {
	sum := sha512.Sum384(data)
	return sum[:]
}
