package ioadapter

// NewDefaultRegistry builds a Registry with the recognized adapter names
// from §6 (voice-chat, file, webrtc-class) plus browser-ws, a raw-PCM
// WebSocket transport used by load generators and browser/CLI test
// clients that have no Discord/WebRTC stack of their own.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterInput("voice-chat", NewVoiceChatInput)
	r.RegisterOutput("voice-chat", NewVoiceChatOutput)

	r.RegisterInput("file", NewFileInput)
	r.RegisterOutput("file", NewFileOutput)

	r.RegisterInput("webrtc-class", NewWebRTCInput)
	r.RegisterOutput("webrtc-class", NewWebRTCOutput)

	r.RegisterInput("browser-ws", NewWSAudioInput)
	r.RegisterOutput("browser-ws", NewWSAudioOutput)

	return r
}
