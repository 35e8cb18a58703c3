// Command relay is the chat relay server.
//
// It accepts chat turns over HTTP, remembers a conversation thread id per
// session, forwards each turn to the upstream completions service and
// streams the reply back as Vercel AI data stream frames.
//
// Usage:
//
//	relay run --config relay.yaml
//	relay validate --config relay.yaml
//	relay version
package main

func main() {
	Execute()
}
