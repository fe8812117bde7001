package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/auctionops/internal/domain"
	"github.com/punchamoorthee/auctionops/internal/models"
	"github.com/punchamoorthee/auctionops/internal/service"
	"github.com/punchamoorthee/auctionops/internal/store"
)

// BidderHeader carries the authenticated bidder id set by the gateway.
const BidderHeader = "X-Bidder-ID"

const maxBodyBytes = 1 << 20

// Services are the collaborators the handlers call into.
type Services struct {
	Engine   *service.Engine
	Queries  *service.Queries
	Wallets  *service.Wallets
	Auctions *service.Auctions
	Keys     store.Idempotency
	Logger   *slog.Logger
}

type Handler struct {
	engine   *service.Engine
	queries  *service.Queries
	wallets  *service.Wallets
	auctions *service.Auctions
	keys     store.Idempotency
	logger   *slog.Logger
}

func NewHandler(s Services) *Handler {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:   s.Engine,
		queries:  s.Queries,
		wallets:  s.Wallets,
		auctions: s.Auctions,
		keys:     s.Keys,
		logger:   logger,
	}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateAuctionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAuctionRequest
	if _, ok := decodeBody(w, r, &req); !ok {
		return
	}
	auction, err := req.Auction()
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	snap, err := h.auctions.Create(r.Context(), auction)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/auctions/"+snap.ID)
	respondWithJSON(w, http.StatusCreated, snap)
}

func (h *Handler) GetAuctionHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.queries.Auction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) GetPriceHandler(w http.ResponseWriter, r *http.Request) {
	price, err := h.queries.CurrentPrice(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, price)
}

func (h *Handler) GetBidHistoryHandler(w http.ResponseWriter, r *http.Request) {
	bids, err := h.queries.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bids)
}

func (h *Handler) PlaceBidHandler(w http.ResponseWriter, r *http.Request) {
	bidderID := strings.TrimSpace(r.Header.Get(BidderHeader))
	if bidderID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing "+BidderHeader+" header")
		return
	}

	var req models.PlaceBidRequest
	body, ok := decodeBody(w, r, &req)
	if !ok {
		return
	}

	auctionID := mux.Vars(r)["id"]
	h.idempotent(w, r, body, func() (int, any) {
		res, err := h.engine.PlaceBid(r.Context(), service.BidRequest{
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    req.Amount,
		})
		if err != nil {
			return h.serviceError(r, err)
		}
		return bidStatus(res), models.NewBidResponse(res.Bid, res.Rejection, res.Auction)
	})
}

// bidStatus maps an admission outcome onto HTTP.
func bidStatus(res *service.BidResult) int {
	if res.Accepted() {
		return http.StatusCreated
	}
	switch res.Rejection.Reason {
	case domain.ReasonAuctionNotFound:
		return http.StatusNotFound
	case domain.ReasonContended:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *Handler) GetBidderBidsHandler(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		var err error
		if activeOnly, err = strconv.ParseBool(v); err != nil {
			respondWithError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
	}
	bids, err := h.queries.BidderBids(r.Context(), mux.Vars(r)["id"], activeOnly)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bids)
}

func (h *Handler) OpenWalletHandler(w http.ResponseWriter, r *http.Request) {
	var req models.OpenWalletRequest
	if _, ok := decodeBody(w, r, &req); !ok {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondWithError(w, http.StatusBadRequest, "user_id required")
		return
	}
	wallet, err := h.wallets.Open(r.Context(), req.UserID, req.Currency)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/wallets/"+wallet.UserID)
	respondWithJSON(w, http.StatusCreated, models.NewWalletResponse(wallet))
}

func (h *Handler) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.wallets.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewWalletResponse(wallet))
}

func (h *Handler) GetWalletEntriesHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := h.wallets.Entries(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) TopUpHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TopUpRequest
	body, ok := decodeBody(w, r, &req)
	if !ok {
		return
	}
	if req.Amount <= 0 {
		respondWithError(w, http.StatusUnprocessableEntity, "Positive amount required")
		return
	}

	userID := mux.Vars(r)["id"]
	h.idempotent(w, r, body, func() (int, any) {
		entry, err := h.wallets.TopUp(r.Context(), userID, req.Amount, req.Reference)
		if err != nil {
			return h.serviceError(r, err)
		}
		return http.StatusCreated, entry
	})
}

// decodeBody reads the whole body, keeping the raw bytes for request hashing.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Stream read error")
		return nil, false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return nil, false
	}
	return body, true
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, payload := h.serviceError(r, err)
	respondWithJSON(w, status, payload)
}

func (h *Handler) serviceError(r *http.Request, err error) (int, any) {
	status, message := http.StatusInternalServerError, "Internal Server Error"
	switch {
	case errors.Is(err, domain.ErrAuctionNotFound):
		status, message = http.StatusNotFound, "Auction not found"
	case errors.Is(err, domain.ErrWalletNotFound):
		status, message = http.StatusNotFound, "Wallet not found"
	case errors.Is(err, domain.ErrWalletExists):
		status, message = http.StatusConflict, "Wallet already exists"
	case errors.Is(err, domain.ErrInvalidAuction), errors.Is(err, domain.ErrInvalidAmount):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrAuctionHalted):
		message = "Auction halted"
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"module", "api",
			"operation", r.Method+" "+r.URL.Path,
			"error", err,
		)
	}
	return status, models.ErrorResponse{Error: message}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		code, raw = http.StatusInternalServerError, []byte(`{"error":"Internal Server Error"}`)
	}
	respondWithRaw(w, code, raw)
}

func respondWithRaw(w http.ResponseWriter, code int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", fmt.Sprint(len(raw)))
	w.WriteHeader(code)
	w.Write(raw)
}
