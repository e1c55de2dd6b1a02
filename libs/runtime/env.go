package runtime

import "os"

// Getenv reads an environment variable, treating empty the same as unset.
func Getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
