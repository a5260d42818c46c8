package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHasConnectedProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/providers/status" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer crm-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"connected": true})
	}))
	defer srv.Close()

	ctx := context.Background()

	if !NewClient(srv.URL, "crm-key").HasConnectedProvider(ctx) {
		t.Error("expected connected provider")
	}
	if NewClient(srv.URL, "wrong-key").HasConnectedProvider(ctx) {
		t.Error("unauthorized response must report not connected")
	}
	if NewClient("", "").HasConnectedProvider(ctx) {
		t.Error("unconfigured client must report not connected")
	}
}

func TestSyncContact(t *testing.T) {
	var got SyncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/contacts/sync" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(SyncResult{Success: true, Action: "created"})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "crm-key").SyncContact(context.Background(), SyncRequest{
		Contact: Contact{
			Name:    "Sarah Chen",
			Email:   "sarah.chen@acmecorp.example",
			Company: "Acme Corp",
			Source:  "email_sync",
		},
		EmailContent: "Could we schedule a meeting next Tuesday?",
	})
	if err != nil {
		t.Fatalf("SyncContact: %v", err)
	}
	if !res.Success || res.Action != "created" {
		t.Errorf("unexpected result %+v", res)
	}
	if got.Contact.Email != "sarah.chen@acmecorp.example" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestSyncContactErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no provider", http.StatusNotFound)
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL, "")

	if _, err := c.SyncContact(ctx, SyncRequest{Contact: Contact{Email: "a@b.c"}}); err == nil {
		t.Error("expected error for 404 from CRM")
	}
	if _, err := c.SyncContact(ctx, SyncRequest{Contact: Contact{Name: "No Email"}}); err == nil {
		t.Error("expected error for contact without email")
	}
	if _, err := NewClient("", "").SyncContact(ctx, SyncRequest{Contact: Contact{Email: "a@b.c"}}); err == nil {
		t.Error("expected error for unconfigured client")
	}
}
