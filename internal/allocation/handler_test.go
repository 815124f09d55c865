package allocation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
)

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestHandlerAllocate(t *testing.T) {
	ledger := quant.NewMemoryLedger(0.01)
	seedLot(ledger, 1, "A", 10, 1)

	move := wholeLotMove(100)
	move.Demand = 10
	store := newMemoryStore(move)
	svc := NewService(store, ledger, nil, nil, nil, nil)
	router := newTestRouter(NewHandler(nil, svc, store))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/allocations", strings.NewReader(`{"move_ids":[100]}`))
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Moves []MoveResponse `json:"moves"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Moves, 1)
	require.Equal(t, "assigned", body.Moves[0].State)
	require.Len(t, body.Moves[0].Lines, 1)
	require.Equal(t, int64(1), body.Moves[0].Lines[0].LotID)
}

func TestHandlerAllocateRejectsBadBody(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, quant.NewMemoryLedger(0.01), nil, nil, nil, nil)
	router := newTestRouter(NewHandler(nil, svc, store))

	for _, body := range []string{`{`, `{"move_ids":[]}`, `{"move_ids":[0]}`} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/allocations", strings.NewReader(body))
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code, "body %q", body)
	}
}

func TestHandlerShowMove(t *testing.T) {
	move := wholeLotMove(7)
	move.Demand = 5
	store := newMemoryStore(move)
	svc := NewService(store, quant.NewMemoryLedger(0.01), nil, nil, nil, nil)
	router := newTestRouter(NewHandler(nil, svc, store))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/moves/7", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp MoveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, int64(7), resp.ID)
	require.True(t, resp.WholeLot)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/moves/99", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
