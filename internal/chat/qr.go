package chat

import (
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
)

// RenderQR writes a pairing code as a scannable terminal QR code.
func RenderQR(w io.Writer, code string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[pairing] Scan the QR code below with the chat app:")
	fmt.Fprintln(w)
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
	fmt.Fprintln(w)
}
