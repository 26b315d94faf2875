// Console termios handlers (spec §4.10's ISATTY/TCGETATTR/TCSETATTR).
// When the server's hosting process has a real controlling terminal the
// settings are read from and applied to it through x/sys/unix, so a
// shell running against the demo console gets genuine raw/cooked mode
// switches; otherwise a canonical default image is served.
package ifs

import (
	"cheviot/src/defs"
	"cheviot/src/util"

	"golang.org/x/sys/unix"
)

// TermiosSz is the wire size of a termios image: four mode words plus a
// zero-padded control-character array.
const TermiosSz = 4*4 + 32

func encodeTermios(buf []byte, t *unix.Termios) int {
	util.PutLE32(buf[0:4], uint32(t.Iflag))
	util.PutLE32(buf[4:8], uint32(t.Oflag))
	util.PutLE32(buf[8:12], uint32(t.Cflag))
	util.PutLE32(buf[12:16], uint32(t.Lflag))
	for i := 0; i < len(t.Cc) && 16+i < TermiosSz; i++ {
		buf[16+i] = t.Cc[i]
	}
	return TermiosSz
}

func decodeTermios(buf []byte) *unix.Termios {
	var t unix.Termios
	t.Iflag = uint32(util.LE32(buf[0:4]))
	t.Oflag = uint32(util.LE32(buf[4:8]))
	t.Cflag = uint32(util.LE32(buf[8:12]))
	t.Lflag = uint32(util.LE32(buf[12:16]))
	for i := 0; i < len(t.Cc) && 16+i < len(buf); i++ {
		t.Cc[i] = buf[16+i]
	}
	return &t
}

func ttyGetattr(buf []byte) (int, defs.Err_t) {
	if len(buf) < TermiosSz {
		return 0, -defs.EINVAL
	}
	t, err := unix.IoctlGetTermios(0, unix.TCGETS)
	if err != nil {
		// no controlling terminal: serve a sane cooked-mode default
		t = &unix.Termios{
			Iflag: unix.ICRNL,
			Oflag: unix.OPOST | unix.ONLCR,
			Cflag: unix.CS8 | unix.CREAD,
			Lflag: unix.ICANON | unix.ECHO | unix.ISIG,
		}
	}
	return encodeTermios(buf, t), 0
}

func ttySetattr(payload []byte) defs.Err_t {
	if len(payload) < TermiosSz {
		return -defs.EINVAL
	}
	t := decodeTermios(payload)
	if err := unix.IoctlSetTermios(0, unix.TCSETS, t); err != nil {
		// accepted but not applied when there is no real terminal
		return 0
	}
	return 0
}
