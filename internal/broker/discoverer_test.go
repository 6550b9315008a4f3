package broker

import (
	"context"
	"testing"

	"mcpbroker/internal/domain"
	"mcpbroker/internal/mcpserver"
	"mcpbroker/internal/toolfilter"
)

type fakeToolfilterStore struct {
	upserted []domain.ToolPreference
	kept     []string
}

func (f *fakeToolfilterStore) GetToolPreference(_ context.Context, serverID, toolName, clientID string) (*domain.ToolPreference, error) {
	return nil, &domain.NotFoundError{Kind: "tool", ID: toolName}
}

func (f *fakeToolfilterStore) ListToolPreferencesForScope(_ context.Context, serverID, clientID string) ([]domain.ToolPreference, error) {
	return nil, nil
}

func (f *fakeToolfilterStore) ListGlobalToolNames(_ context.Context, serverID string) ([]string, error) {
	return nil, nil
}

func (f *fakeToolfilterStore) UpsertToolPreference(_ context.Context, p domain.ToolPreference) error {
	f.upserted = append(f.upserted, p)
	return nil
}

func (f *fakeToolfilterStore) UpdateOriginalDescription(_ context.Context, serverID, toolName, description string) error {
	return nil
}

func (f *fakeToolfilterStore) DeleteToolPreferencesNotIn(_ context.Context, serverID string, keepToolNames []string) error {
	f.kept = keepToolNames
	return nil
}

func (f *fakeToolfilterStore) BulkSetEnabled(_ context.Context, serverID, clientID string, enabled bool) error {
	return nil
}

func (f *fakeToolfilterStore) BulkReset(_ context.Context, serverID, clientID string) error {
	return nil
}

func TestToolDiscoverAdapterConvertsAnnouncements(t *testing.T) {
	store := &fakeToolfilterStore{}
	adapter := toolDiscoverAdapter{filter: toolfilter.New(store)}

	announced := []mcpserver.ToolAnnouncement{
		{Name: "get_weather", Description: "Looks up current weather"},
		{Name: "list_files", Description: "Lists files in a directory"},
	}

	if err := adapter.InitDiscovery(context.Background(), "srv-a", announced); err != nil {
		t.Fatalf("InitDiscovery: %v", err)
	}

	if len(store.upserted) != 2 {
		t.Fatalf("expected 2 upserted tool preferences, got %d", len(store.upserted))
	}
	if store.upserted[0].ToolName != "get_weather" || store.upserted[0].OriginalDescription != "Looks up current weather" {
		t.Errorf("unexpected first preference: %+v", store.upserted[0])
	}
	if store.upserted[0].ServerID != "srv-a" {
		t.Errorf("expected server id to be forwarded unchanged, got %q", store.upserted[0].ServerID)
	}
	if len(store.kept) != 2 || store.kept[0] != "get_weather" || store.kept[1] != "list_files" {
		t.Errorf("expected DeleteToolPreferencesNotIn to keep both announced tools, got %v", store.kept)
	}
}
