package pkg

import "golang.org/x/crypto/bcrypt"

const tokenHashCost = 12

// HashToken returns the bcrypt hash of a device API token.
func HashToken(token string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(token), tokenHashCost)
	return string(bytes), err
}

func CheckTokenHash(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
