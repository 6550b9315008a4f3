package broker

import (
	"context"

	"mcpbroker/internal/mcpserver"
	"mcpbroker/internal/toolfilter"
)

// toolDiscoverAdapter satisfies mcpserver.ToolDiscoverer by translating
// mcpserver.ToolAnnouncement into toolfilter.AnnouncedTool. The two
// packages intentionally don't import each other (see manager.go's
// ToolAnnouncement doc comment); this is the seam that connects them at
// the composition root.
type toolDiscoverAdapter struct {
	filter *toolfilter.Service
}

func (a toolDiscoverAdapter) InitDiscovery(ctx context.Context, serverID string, announced []mcpserver.ToolAnnouncement) error {
	converted := make([]toolfilter.AnnouncedTool, len(announced))
	for i, t := range announced {
		converted[i] = toolfilter.AnnouncedTool{Name: t.Name, Description: t.Description}
	}
	return a.filter.InitDiscovery(ctx, serverID, converted)
}
