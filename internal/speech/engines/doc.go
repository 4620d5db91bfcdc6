// Package engines provides speech backends for the speech facade.
//
// Available backends:
//   - xunfei: iFlytek streaming synthesis over a signed WebSocket.
//   - fishaudio: Fish Audio REST synthesis.
//   - command: local synthesizers (say, espeak-ng, piper, gtts-cli) run as
//     subprocesses, with their output converted to the target format.
//
// Build turns configuration entries into ordered speech.EngineDescriptor
// values.
package engines
