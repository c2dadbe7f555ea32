// Package capture records microphone audio through PortAudio.
//
// A session probes candidate sample formats (record and playback checked
// independently), runs an optional dynamics-compressor stage between the
// microphone and the sink, watches for device removal, and holds an advisory
// file lock while recording is active. Stopping always emits the bytes
// captured so far unless the take is literally empty.
package capture
