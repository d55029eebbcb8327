package gate

import (
	"encoding/json"
	"net/http"
)

type detailBody struct {
	Detail string `json:"detail"`
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(detailBody{Detail: detail})
}
