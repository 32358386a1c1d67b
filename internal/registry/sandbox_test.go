package registry

import (
	"testing"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

func TestSandbox_Load_CapturesRegisteredObjects(t *testing.T) {
	s := NewSandbox()
	loaded, err := s.Load(`
		register({id: "a", priority: 1});
		register({id: "b", priority: 2});
	`)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(loaded.Objects) != 2 {
		t.Fatalf("got %d registered objects, want 2", len(loaded.Objects))
	}
}

func TestSandbox_Load_SyntaxError(t *testing.T) {
	s := NewSandbox()
	if _, err := s.Load(`this is not valid javascript {{{`); err == nil {
		t.Error("expected error for invalid JS")
	}
}

func TestSandbox_Load_NoRegisterCalls(t *testing.T) {
	s := NewSandbox()
	loaded, err := s.Load(`var x = 1 + 1;`)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(loaded.Objects) != 0 {
		t.Errorf("expected no registered objects, got %d", len(loaded.Objects))
	}
}

func TestBuildRule_MatchesAndGenerate(t *testing.T) {
	s := NewSandbox()
	loaded, err := s.Load(`
		register({
			id: "high-priority-file",
			priority: 10,
			matches: function(cookie, ctx) {
				return cookie.identifier === "/samples/a.bam";
			},
			generate: function(cookie, ctx) {
				return {
					terminate: true,
					notifications: [{about: cookie.identifier, sender: "rule", data: "matched"}]
				};
			}
		});
	`)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(loaded.Objects) != 1 {
		t.Fatalf("expected 1 registered object, got %d", len(loaded.Objects))
	}

	entry := buildRule(loaded, loaded.Objects[0], "rules/high.rule.js", "gen-1")
	if entry.ID() != "high-priority-file" {
		t.Errorf("ID() = %q, want %q", entry.ID(), "high-priority-file")
	}
	if entry.Priority() != 10 {
		t.Errorf("Priority() = %d, want 10", entry.Priority())
	}

	cookie := model.Cookie{Identifier: "/samples/a.bam"}
	matched, err := entry.Matches(cookie, model.Context{})
	if err != nil {
		t.Fatalf("Matches error: %v", err)
	}
	if !matched {
		t.Error("expected Matches to return true for matching identifier")
	}
	matched, err = entry.Matches(model.Cookie{Identifier: "/other"}, model.Context{})
	if err != nil {
		t.Fatalf("Matches error: %v", err)
	}
	if matched {
		t.Error("expected Matches to return false for non-matching identifier")
	}

	action, err := entry.Generate(cookie, model.Context{})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !action.Terminate {
		t.Error("expected Terminate true")
	}
	if len(action.Notifications) != 1 || action.Notifications[0].About != cookie.Identifier {
		t.Errorf("unexpected notifications: %+v", action.Notifications)
	}
}

func TestBuildRule_MatchesThrowPropagatesError(t *testing.T) {
	s := NewSandbox()
	loaded, err := s.Load(`
		register({
			id: "throws",
			priority: 1,
			matches: function(cookie, ctx) { throw new Error("bad plug-in"); },
			generate: function(cookie, ctx) { return {}; }
		});
	`)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	entry := buildRule(loaded, loaded.Objects[0], "rules/throws.rule.js", "gen-1")
	if _, err := entry.Matches(model.Cookie{}, model.Context{}); err == nil {
		t.Error("expected Matches to propagate the thrown exception as an error")
	}
}

func TestBuildRule_GenerateThrowPropagatesError(t *testing.T) {
	s := NewSandbox()
	loaded, err := s.Load(`
		register({
			id: "throws",
			priority: 1,
			matches: function(cookie, ctx) { return true; },
			generate: function(cookie, ctx) { throw new Error("bad plug-in"); }
		});
	`)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	entry := buildRule(loaded, loaded.Objects[0], "rules/throws.rule.js", "gen-1")
	if _, err := entry.Generate(model.Cookie{}, model.Context{}); err == nil {
		t.Error("expected Generate to propagate the thrown exception as an error")
	}
}

func TestBuildEnrichmentLoader_CanEnrichAndLoad(t *testing.T) {
	s := NewSandbox()
	loaded, err := s.Load(`
		register({
			id: "fallback-loader",
			priority: 1,
			can_enrich: function(cookie, ctx) { return true; },
			load: function(cookie, ctx) {
				return {source: "fallback", metadata: {note: "loaded"}};
			}
		});
	`)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	entry := buildEnrichmentLoader(loaded, loaded.Objects[0], "enrichments/fallback.enrichment.js", "gen-1")
	can, err := entry.CanEnrich(model.Cookie{}, model.Context{})
	if err != nil {
		t.Fatalf("CanEnrich error: %v", err)
	}
	if !can {
		t.Error("expected CanEnrich true")
	}
	enrichment, err := entry.Load(model.Cookie{}, model.Context{})
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if enrichment.Source != "fallback" {
		t.Errorf("Source = %q, want fallback", enrichment.Source)
	}
	if enrichment.Metadata["note"] != "loaded" {
		t.Errorf("Metadata[note] = %v, want loaded", enrichment.Metadata["note"])
	}
}

func TestBuildEnrichmentLoader_CanEnrichThrowPropagatesError(t *testing.T) {
	s := NewSandbox()
	loaded, err := s.Load(`
		register({
			id: "throws",
			priority: 1,
			can_enrich: function(cookie, ctx) { throw new Error("bad plug-in"); },
			load: function(cookie, ctx) { return {}; }
		});
	`)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	entry := buildEnrichmentLoader(loaded, loaded.Objects[0], "enrichments/throws.enrichment.js", "gen-1")
	if _, err := entry.CanEnrich(model.Cookie{}, model.Context{}); err == nil {
		t.Error("expected CanEnrich to propagate the thrown exception as an error")
	}
}

func TestBuildNotificationReceiver_Receive(t *testing.T) {
	s := NewSandbox()
	loaded, err := s.Load(`
		var lastAbout = "";
		register({
			id: "sink",
			priority: 0,
			receive: function(notification, ctx) { lastAbout = notification.about; }
		});
	`)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	entry := buildNotificationReceiver(loaded, loaded.Objects[0], "receivers/sink.receiver.js", "gen-1")
	entry.Receive(model.Notification{About: "/samples/a.bam", Sender: "x"}, model.Context{})

	val, err := loaded.VM.Get("lastAbout")
	if err != nil {
		t.Fatalf("Get lastAbout: %v", err)
	}
	if val.String() != "/samples/a.bam" {
		t.Errorf("lastAbout = %q, want /samples/a.bam", val.String())
	}
}
