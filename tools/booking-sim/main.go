package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Posts a booking request against a running scheduler, for local smoke tests.
func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "scheduler base url")
		name    = flag.String("name", getenv("PATIENT_NAME", "Test Patient"), "patient name")
		phone   = flag.String("phone", getenv("PATIENT_PHONE", "+919876543210"), "patient phone")
		service = flag.String("service", getenv("SERVICE", "checkup"), "service name")
		start   = flag.String("start", getenv("START_TIME", ""), "start time (RFC3339)")
	)
	flag.Parse()

	startTime := strings.TrimSpace(*start)
	if startTime == "" {
		// Default to 10:00 clinic time tomorrow; good enough for a smoke test.
		loc, err := time.LoadLocation("Asia/Kolkata")
		if err != nil {
			fatal(err.Error())
		}
		tomorrow := time.Now().In(loc).AddDate(0, 0, 1)
		startTime = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 10, 0, 0, 0, loc).Format(time.RFC3339)
	}

	payload, err := json.Marshal(map[string]string{
		"patient_name":  *name,
		"patient_phone": *phone,
		"service":       *service,
		"start_time":    startTime,
	})
	if err != nil {
		fatal(err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/appointments/book", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("status=%d\n%s\n", resp.StatusCode, body)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
