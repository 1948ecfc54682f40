package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

func smells(m dsl.Matcher) {
	// Consecutive guards with the same return; merge with ||.
	m.Match(`if $c1 { return $ret }; if $c2 { return $ret }`).
		Report(`two consecutive guards return the same value; consider merging conditions with ||`).
		Suggest(`if $c1 || $c2 { return $ret }`)

	m.Match(`for $*_ { for $*_ { $*_ } }`).
		Report(`nested for-loop; consider extracting inner loop logic`)
}

// httpClients keeps every outbound call on a client the caller configured.
func httpClients(m dsl.Matcher) {
	m.Match(`http.DefaultClient`, `http.Get($*_)`, `http.Post($*_)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report(`use an injected *http.Client; the default client cannot be configured or cancelled`)

	m.Match(`http.NewRequest($method, $url, $body)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report(`build requests with the caller's context`).
		Suggest(`http.NewRequestWithContext(ctx, $method, $url, $body)`)
}

// responseBodies flags responses whose body is never closed in the same function.
func responseBodies(m dsl.Matcher) {
	m.Match(`$resp, $err := $client.Do($req); $*body`).
		Where(!m["body"].Contains(`$resp.Body.Close()`) &&
			!m["body"].Contains(`return $resp.Body, $*_`) &&
			!m["body"].Contains(`frame.NewReader($resp.Body, $*_)`)).
		Report(`$resp.Body is not closed`)
}

// handlerContexts keeps request handlers on the request's context, so a client
// disconnect cancels the upstream session.
func handlerContexts(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().PkgPath.Matches(`/internal/api`) && !m.File().Name.Matches(`_test\.go$`)).
		Report(`handlers must derive from r.Context()`)
}
