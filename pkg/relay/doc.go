// Package relay drives one client turn through the upstream chat service.
//
// A Relay resolves the turn's thread id, opens the upstream stream through
// the retrying transport and transcodes every parsed unit into downstream
// frames. Each call to Start moves through the states
//
//	Starting → ResolvingThread → Connecting → Streaming → Completed
//
// or ends in Failed. Starting, ResolvingThread and Connecting run on the
// caller's goroutine; Streaming runs on a goroutine owned by the returned
// Stream, which delivers frames over a channel in upstream order.
//
// # Termination
//
// A stream that reaches Completed emits exactly one end-of-stream frame,
// whether the upstream sent its terminal marker, closed the connection
// early, or failed after the first byte. A stream that fails before the
// first byte is Failed and carries no frames at all.
//
// Cancelling the context passed to Start, or calling Stream.Close, closes
// the upstream connection and completes the stream with OutcomeCancelled.
//
// # Usage
//
//	r := relay.New(relay.Config{}, relay.Deps{
//		Transport: transport,
//		Registry:  registry,
//	})
//	stream, err := r.Start(ctx, relay.ChatRequest{Messages: msgs})
//	if err != nil {
//		return err
//	}
//	defer stream.Close()
//	for frame := range stream.Frames() {
//		w.Write(frame.Bytes())
//	}
package relay
