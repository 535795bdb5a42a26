package storage

import "github.com/pkg/errors"

var ErrKeyFormatInvalid = errors.New("key format invalid")

func validateKeyFormat(key string) bool {
	if key == "" {
		return false
	}
	for _, ch := range []rune(key) {
		if (ch >= '0' && ch <= '9') ||
			(ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch == '_') || (ch == '-') || (ch == '.') {
			continue
		} else {
			return false
		}
	}
	return key != "." && key != ".."
}
