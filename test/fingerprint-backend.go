package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
)

// Minimal stand-in for a fingerprint backend, used for local testing of the
// gateway. Run several on different ports to exercise load balancing:
//
//	PORT=3001 go run test/fingerprint-backend.go
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("received request: %s %s", r.Method, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "fingerprint backend on :" + port,
			"path":    r.URL.Path,
		})
	})

	log.Printf("fingerprint backend starting on :%s", port)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}
