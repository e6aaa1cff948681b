//go:build espeak

package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <espeak-ng/speak_lib.h>

int espeak_render(const char *text, const char *lang);
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"voxrelay/pkg/audioconv"
)

// espeak-ng keeps global state; one render at a time.
var (
	espeakMu  sync.Mutex
	espeakBuf []int16
)

//export goEspeakSamples
func goEspeakSamples(wav *C.short, n C.int) C.int {
	if wav == nil || n <= 0 {
		return 0
	}
	espeakBuf = append(espeakBuf, unsafe.Slice((*int16)(unsafe.Pointer(wav)), int(n))...)
	return 0
}

// Espeak renders speech offline with espeak-ng. The voice argument of
// Synthesize is ignored; the language is fixed at construction.
type Espeak struct {
	lang string
}

func NewEspeak(lang string) (*Espeak, error) {
	if lang == "" {
		lang = "en"
	}
	return &Espeak{lang: lang}, nil
}

func (e *Espeak) Synthesize(ctx context.Context, text, _ string) (Audio, error) {
	if text == "" {
		return Audio{}, fmt.Errorf("espeak: empty text")
	}
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}

	espeakMu.Lock()
	defer espeakMu.Unlock()
	espeakBuf = espeakBuf[:0]

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(e.lang)
	defer C.free(unsafe.Pointer(clang))

	rate := C.espeak_render(ctext, clang)
	if rate <= 0 {
		return Audio{}, fmt.Errorf("espeak_render failed: %d", int(rate))
	}

	wav, err := audioconv.EncodeWAV16(espeakBuf, int(rate))
	if err != nil {
		return Audio{}, fmt.Errorf("espeak: %w", err)
	}
	return Audio{Data: wav, Format: audioconv.FormatWAV}, nil
}
