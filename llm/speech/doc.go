// Copyright (c) AskFlow Authors.
// Licensed under the MIT License.

/*
Package speech provides the speech-to-text layer for voice input.

The Transcriber interface hides vendor differences in audio formats,
authentication, and response structure behind one request/response model.
The provider factory hands out a Transcriber when a request enters in
transcription mode; callers feed it an audio stream and get back text plus
optional timing segments.

Whisper is the bundled implementation, backed by the OpenAI transcription
endpoint. It uploads clips as multipart form data and parses the
verbose_json response shape.
*/
package speech
