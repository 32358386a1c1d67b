package registry

import (
	"fmt"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// cookieToJS flattens a model.Cookie into the plain map otto converts to a
// JS object automatically: {identifier, enrichments: [{source, timestamp,
// metadata}, ...]}.
func cookieToJS(cookie model.Cookie) map[string]any {
	enrichments := make([]any, len(cookie.Enrichments))
	for i, e := range cookie.Enrichments {
		enrichments[i] = map[string]any{
			"source":    e.Source,
			"timestamp": e.Timestamp.Format(time.RFC3339Nano),
			"metadata":  e.Metadata,
		}
	}
	return map[string]any{
		"identifier":  cookie.Identifier,
		"enrichments": enrichments,
	}
}

// contextToJS exposes the subset of model.Context a plug-in may call:
// fetch_cookie(identifier) -> cookie-shaped object or undefined.
func contextToJS(vm *otto.Otto, ctx model.Context) map[string]any {
	return map[string]any{
		"fetch_cookie": func(call otto.FunctionCall) otto.Value {
			if ctx.CookieJar == nil || len(call.ArgumentList) == 0 {
				return otto.UndefinedValue()
			}
			id := call.ArgumentList[0].String()
			cookie, ok := ctx.CookieJar.FetchCookie(id)
			if !ok {
				return otto.UndefinedValue()
			}
			v, err := vm.ToValue(cookieToJS(*cookie))
			if err != nil {
				return otto.UndefinedValue()
			}
			return v
		},
	}
}

// ruleActionFromJS reads a {notifications: [...], terminate: bool} result
// object into a model.RuleAction. This only runs once generate() has
// already returned without throwing; a result that is present but
// malformed (wrong shape, missing fields) degrades field-by-field to the
// zero action rather than erroring, since the exception path is handled
// separately by the caller before this is reached.
func ruleActionFromJS(val otto.Value) model.RuleAction {
	if !val.IsObject() {
		return model.RuleAction{}
	}
	obj := val.Object()

	action := model.RuleAction{}
	if b, err := obj.Get("terminate"); err == nil && b.IsBoolean() {
		action.Terminate, _ = b.ToBoolean()
	}

	notificationsVal, err := obj.Get("notifications")
	if err != nil || !notificationsVal.IsObject() {
		return action
	}
	arr := notificationsVal.Object()
	lengthVal, err := arr.Get("length")
	if err != nil {
		return action
	}
	length, err := lengthVal.ToInteger()
	if err != nil {
		return action
	}
	for i := int64(0); i < length; i++ {
		item, err := arr.Get(fmt.Sprintf("%d", i))
		if err != nil || !item.IsObject() {
			continue
		}
		action.Notifications = append(action.Notifications, notificationFromJS(item.Object()))
	}
	return action
}

func notificationFromJS(obj *otto.Object) model.Notification {
	data, _ := obj.Get("data")
	export, _ := data.Export()
	return model.Notification{
		About:  stringField(obj, "about"),
		Sender: stringField(obj, "sender"),
		Data:   export,
	}
}

// enrichmentFromJS reads a {source, timestamp, metadata} result object into
// a model.Enrichment. A missing timestamp defaults to now.
func enrichmentFromJS(val otto.Value) (model.Enrichment, error) {
	if !val.IsObject() {
		return model.Enrichment{}, fmt.Errorf("registry: loader result is not an object")
	}
	obj := val.Object()

	ts := time.Now().UTC()
	if tsVal, err := obj.Get("timestamp"); err == nil && tsVal.IsString() {
		if parsed, err := time.Parse(time.RFC3339Nano, tsVal.String()); err == nil {
			ts = parsed
		}
	}

	metadata := map[string]any{}
	if metaVal, err := obj.Get("metadata"); err == nil && metaVal.IsObject() {
		if exported, err := metaVal.Export(); err == nil {
			if m, ok := exported.(map[string]any); ok {
				metadata = m
			}
		}
	}

	return model.Enrichment{
		Source:    stringField(obj, "source"),
		Timestamp: ts,
		Metadata:  metadata,
	}, nil
}
