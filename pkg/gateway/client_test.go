package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peng-cmdt/SimpleMES-sub001/pkg/gateway"
	"github.com/stretchr/testify/assert"
)

func TestHTTPClient(t *testing.T) {
	t.Run("ReadSendsParsedAddress", func(t *testing.T) {
		var got struct {
			DeviceID int64           `json:"device_id"`
			Address  string          `json:"address"`
			Parsed   gateway.Address `json:"parsed"`
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/read", r.URL.Path)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(gateway.ReadResult{Success: true, Value: 1})
		}))
		defer srv.Close()

		client := gateway.NewHTTPClient(srv.URL, time.Second)
		res, err := client.Read(context.Background(), 7, "DB10.DBX2.5")
		assert.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.Value)
		assert.Equal(t, int64(7), got.DeviceID)
		assert.Equal(t, "DB10.DBX2.5", got.Address)
		assert.Equal(t, gateway.Address{DB: 10, Byte: 2, Bit: 5}, got.Parsed)
	})

	t.Run("WriteCarriesValue", func(t *testing.T) {
		var got struct {
			Value string `json:"value"`
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/write", r.URL.Path)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(gateway.WriteResult{Success: true})
		}))
		defer srv.Close()

		client := gateway.NewHTTPClient(srv.URL, time.Second)
		res, err := client.Write(context.Background(), 7, "DB10.DBX2.5", "1")
		assert.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "1", got.Value)
	})

	t.Run("Status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/status", r.URL.Path)
			assert.Equal(t, "7", r.URL.Query().Get("device_id"))
			json.NewEncoder(w).Encode(map[string]bool{"online": true})
		}))
		defer srv.Close()

		client := gateway.NewHTTPClient(srv.URL, time.Second)
		online, err := client.Status(context.Background(), 7)
		assert.NoError(t, err)
		assert.True(t, online)
	})

	t.Run("NonOKStatusIsError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := gateway.NewHTTPClient(srv.URL, time.Second)
		_, err := client.Read(context.Background(), 7, "DB10.DBX2.5")
		assert.Error(t, err)
	})

	t.Run("ConnectFailure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(gateway.WriteResult{Success: false, Error: "no route to device"})
		}))
		defer srv.Close()

		client := gateway.NewHTTPClient(srv.URL, time.Second)
		err := client.Connect(context.Background(), 7)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no route to device")
	})
}
