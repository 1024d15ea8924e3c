package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

func main() {
	key, hash := generateAPIKey()

	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("🔑 API Key Generated")
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Printf("\nAPI Key (show ONLY ONCE):\n%s\n", key)
	fmt.Printf("\nHash (add to API_KEY_HASHES):\n%s\n", hash)
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("\n⚠️  Save the API key now! You won't be able to see it again.")
	fmt.Println("\nTo enable it on the server:")
	fmt.Printf("export API_KEY_HASHES=%s\n", hash)
	fmt.Println("═══════════════════════════════════════════════════")
}

// generateAPIKey generates a new API key and its storage hash
func generateAPIKey() (key, hash string) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(err)
	}
	randomStr := hex.EncodeToString(randomBytes)

	// Checksum (first 2 bytes of hash) guards against truncated paste
	checksumBytes := sha256.Sum256([]byte(randomStr))
	checksum := hex.EncodeToString(checksumBytes[:2])

	key = fmt.Sprintf("sk_%s_%s", randomStr, checksum)

	hashBytes := sha256.Sum256([]byte(key))
	hash = hex.EncodeToString(hashBytes[:])
	return key, hash
}
