package schema

import (
	"bytes"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var bcryptPrefixes = [][]byte{[]byte("$2a$"), []byte("$2b$"), []byte("$2y$")}

func isBcryptHash(password []byte) bool {
	for _, prefix := range bcryptPrefixes {
		if bytes.HasPrefix(password, prefix) {
			return true
		}
	}
	return false
}

// BeforeSave hashes the password on insert and update so that a plaintext
// password is never written to the database. Passwords that are already
// bcrypt hashes are left untouched to avoid double hashing.
func (u *User) BeforeSave(txn *gorm.DB) error {
	if len(u.Password) == 0 || isBcryptHash(u.Password) {
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword(u.Password, 10)
	if err != nil {
		return err
	}
	u.Password = hashed
	return nil
}
