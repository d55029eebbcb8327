package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatFloat(v float64) string {
	// sem depender de fmt, e sem notação científica para valores comuns
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// retryAfterSeconds arredonda para cima, o cliente nunca tenta cedo demais.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
