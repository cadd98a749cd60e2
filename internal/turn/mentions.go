package turn

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/codex-web/agent-gateway/internal/gatewaylog"
)

// tokenPattern matches $-prefixed mention tokens in input text (§4.8 step 3).
var tokenPattern = regexp.MustCompile(`\$[A-Za-z0-9._-]+`)

// InputItem is one element of a turn/start input array.
type InputItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

type skillInfo struct {
	Name string `json:"name"`
}

type appInfo struct {
	ID          string `json:"id"`
	IsAccessible bool  `json:"isAccessible"`
	IsEnabled    bool  `json:"isEnabled"`
}

type appListPage struct {
	Items      []appInfo `json:"items"`
	NextCursor string    `json:"nextCursor"`
}

// fetchSkills and fetchApps are the RPC surface mentions.go needs; the
// TurnController supplies closures bound to its bridge so this file stays
// independently testable.
type mentionFetchers struct {
	fetchSkills func(ctx context.Context) ([]skillInfo, error)
	fetchApps   func(ctx context.Context) ([]appInfo, error)
}

// expandMentions scans every text input item for $token mentions and
// appends a matching skill or app input item for each resolved token,
// deduplicated against existing items. Either subsystem failing is
// logged and non-fatal (§4.8 step 3, SPEC_FULL.md §12.3): mirrors the
// teacher's McpConnectionManager.Initialize parallel-fan-out-with-
// per-server-failure-isolation shape, fetching skills/list and app/list
// concurrently via a sync.WaitGroup.
func expandMentions(ctx context.Context, items []InputItem, f mentionFetchers, log *gatewaylog.Logger) []InputItem {
	tokens := collectTokens(items)
	if len(tokens) == 0 {
		return items
	}

	var wg sync.WaitGroup
	var skills []skillInfo
	var apps []appInfo

	wg.Add(2)
	go func() {
		defer wg.Done()
		s, err := f.fetchSkills(ctx)
		if err != nil {
			log.Printf("skills/list failed, continuing without skill mentions: %v", err)
			return
		}
		skills = s
	}()
	go func() {
		defer wg.Done()
		a, err := f.fetchApps(ctx)
		if err != nil {
			log.Printf("app/list failed, continuing without app mentions: %v", err)
			return
		}
		apps = a
	}()
	wg.Wait()

	skillByName := make(map[string]skillInfo, len(skills))
	for _, s := range skills {
		skillByName[strings.ToLower(s.Name)] = s
	}
	appByID := make(map[string]appInfo, len(apps))
	for _, a := range apps {
		if a.IsAccessible && a.IsEnabled {
			appByID[strings.ToLower(a.ID)] = a
		}
	}

	existing := make(map[string]bool, len(items))
	for _, it := range items {
		existing[dedupeKey(it)] = true
	}

	out := append([]InputItem(nil), items...)
	for _, token := range tokens {
		name := strings.TrimPrefix(token, "$")
		key := strings.ToLower(name)

		var candidate *InputItem
		if s, ok := skillByName[key]; ok {
			candidate = &InputItem{Type: "skill", Name: s.Name, Path: s.Name}
		} else if a, ok := appByID[key]; ok {
			candidate = &InputItem{Type: "mention", Name: a.ID, Path: "app://" + a.ID}
		}
		if candidate == nil {
			continue
		}
		k := dedupeKey(*candidate)
		if existing[k] {
			continue
		}
		existing[k] = true
		out = append(out, *candidate)
	}
	return out
}

func dedupeKey(it InputItem) string {
	return it.Type + "\x00" + it.Name + "\x00" + it.Path
}

// collectTokens scans every text item for $token mentions, deduplicated
// case-insensitively, preserving first-seen order.
func collectTokens(items []InputItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		if it.Type != "text" || it.Text == "" {
			continue
		}
		for _, m := range tokenPattern.FindAllString(it.Text, -1) {
			key := strings.ToLower(m)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m)
		}
	}
	return out
}

// unmarshalSkillsList and unmarshalAppListPage adapt raw JSON-RPC results
// into the typed shapes above.
func unmarshalSkillsList(raw json.RawMessage) ([]skillInfo, error) {
	var resp struct {
		Skills []skillInfo `json:"skills"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return resp.Skills, nil
}

func unmarshalAppListPage(raw json.RawMessage) (appListPage, error) {
	var page appListPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return appListPage{}, err
	}
	return page, nil
}
