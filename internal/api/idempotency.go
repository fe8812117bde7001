package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

// idempotent runs fn at most once per Idempotency-Key. The first response is
// stored and replayed for an identical request; a different payload under
// the same key is refused. Requests without a key run unguarded.
//
// Contended and 5xx answers release the key so the client can retry.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request, body []byte, fn func() (int, any)) {
	key := r.Header.Get(idempotencyHeader)
	if key == "" {
		status, payload := fn()
		respondWithJSON(w, status, payload)
		return
	}

	ctx := r.Context()
	hash := requestHash(r, body)

	rec, err := h.keys.LookupKey(ctx, key)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if rec != nil {
		switch {
		case rec.RequestHash != hash:
			respondWithError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
		case !rec.Completed:
			respondWithError(w, http.StatusConflict, "Request processing in progress")
		default:
			w.Header().Set(replayedHeader, "true")
			respondWithRaw(w, rec.ResponseStatus, rec.ResponseBody)
		}
		return
	}

	if err := h.keys.ReserveKey(ctx, key, hash); err != nil {
		if errors.Is(err, domain.ErrIdempotencyConflict) {
			respondWithError(w, http.StatusConflict, "Request processing in progress")
			return
		}
		h.respondWithServiceError(w, r, err)
		return
	}

	status, payload := fn()
	raw, err := json.Marshal(payload)
	if err != nil {
		status, raw = http.StatusInternalServerError, []byte(`{"error":"Internal Server Error"}`)
	}

	if status == http.StatusConflict || status >= http.StatusInternalServerError {
		err = h.keys.ReleaseKey(ctx, key)
	} else {
		err = h.keys.CompleteKey(ctx, key, status, raw)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "idempotency key update failed",
			"module", "api",
			"operation", "idempotency",
			"status", status,
			"error", err,
		)
	}
	respondWithRaw(w, status, raw)
}

// requestHash binds a key to the route, the bidder and the exact body.
func requestHash(r *http.Request, body []byte) string {
	sum := sha256.New()
	for _, part := range [][]byte{[]byte(r.Method), []byte(r.URL.Path), []byte(r.Header.Get(BidderHeader)), body} {
		sum.Write(part)
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}
