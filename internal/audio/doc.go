// Package audio plays recitation segments on the local audio device using
// oto/v3. Segments are decoded to PCM with ffmpeg, and the end of each
// segment is reported as an event so the owner can take its completion
// decision.
package audio
