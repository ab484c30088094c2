package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/infrastructure/memory"
	"github.com/dmehra2102/order-saga/pkg/events"
	"github.com/dmehra2102/order-saga/pkg/outbox"
)

func newServer(t *testing.T) (*httptest.Server, *outbox.MemoryStore) {
	t.Helper()
	out := outbox.NewMemoryStore()
	log := slog.New(slog.DiscardHandler)
	svc := application.NewService(log, memory.NewRepository(out))
	srv := httptest.NewServer(NewHandler(log, svc).Routes())
	t.Cleanup(srv.Close)
	return srv, out
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCreateAndFetchOrder(t *testing.T) {
	srv, out := newServer(t)

	resp := post(t, srv.URL, `{"customerId":"c-1","items":[{"productId":"product-A","quantity":2}],"totalAmount":"20.00"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created orderResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "PENDING", created.Status)
	assert.NotEmpty(t, created.ID)

	pending := out.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, string(events.OrderCreated), pending[0].Type)

	get, err := http.Get(srv.URL + "/orders/" + created.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	var fetched orderResp
	require.NoError(t, json.NewDecoder(get.Body).Decode(&fetched))
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, []itemDTO{{ProductID: "product-A", Quantity: 2}}, fetched.Items)
	assert.Equal(t, "20", fetched.TotalAmount.String())
}

func TestCreateOrderValidation(t *testing.T) {
	srv, out := newServer(t)

	for name, body := range map[string]string{
		"empty items":       `{"customerId":"c-1","items":[],"totalAmount":1}`,
		"zero quantity":     `{"customerId":"c-1","items":[{"productId":"p","quantity":0}],"totalAmount":1}`,
		"negative":          `{"customerId":"c-1","items":[{"productId":"p","quantity":1}],"totalAmount":-5}`,
		"not json":          `{`,
		"quantity overflow": `{"customerId":"c-1","items":[{"productId":"p","quantity":9223372036854775807},{"productId":"p","quantity":12}],"totalAmount":1}`,
		"sub-cent total":    `{"customerId":"c-1","items":[{"productId":"p","quantity":1}],"totalAmount":10.005}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := post(t, srv.URL, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, out.Pending())
}

func TestGetUnknownOrder(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/orders/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListOrders(t *testing.T) {
	srv, _ := newServer(t)
	for range 3 {
		post(t, srv.URL, `{"customerId":"c-1","items":[{"productId":"p","quantity":1}],"totalAmount":1}`)
	}

	resp, err := http.Get(srv.URL + "/orders?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []orderResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)

	bad, err := http.Get(srv.URL + "/orders?limit=abc")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

