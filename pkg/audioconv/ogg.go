package audioconv

import (
	"encoding/binary"
	"io"
)

// Ogg page layout per RFC 3533, Opus mapping per RFC 7845.

const (
	oggHeaderBOS = 0x02
	oggHeaderEOS = 0x04

	oggStreamSerial = 0x766f7872 // "voxr"
	oggVendor       = "voxrelay"
)

var oggCRCTable = func() (t [256]uint32) {
	const poly = 0x04c11db7
	for i := range t {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = r<<1 ^ poly
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggCRC(crc uint32, p []byte) uint32 {
	for _, b := range p {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

// oggOpusWriter writes one logical Opus stream, one packet per page.
type oggOpusWriter struct {
	w       io.Writer
	pageSeq uint32
}

func newOggOpusWriter(w io.Writer, channels int, preSkip uint16, inputRate uint32) (*oggOpusWriter, error) {
	o := &oggOpusWriter{w: w}

	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1
	head[9] = byte(channels)
	binary.LittleEndian.PutUint16(head[10:], preSkip)
	binary.LittleEndian.PutUint32(head[12:], inputRate)
	// output gain 0, mapping family 0
	if err := o.writePage(head, 0, oggHeaderBOS); err != nil {
		return nil, err
	}

	tags := make([]byte, 0, 16+len(oggVendor))
	tags = append(tags, "OpusTags"...)
	tags = binary.LittleEndian.AppendUint32(tags, uint32(len(oggVendor)))
	tags = append(tags, oggVendor...)
	tags = binary.LittleEndian.AppendUint32(tags, 0)
	if err := o.writePage(tags, 0, 0); err != nil {
		return nil, err
	}
	return o, nil
}

// WritePacket emits packet on its own page. granule is the 48 kHz sample
// position (pre-skip included) at the end of the packet.
func (o *oggOpusWriter) WritePacket(packet []byte, granule uint64, last bool) error {
	var flags byte
	if last {
		flags = oggHeaderEOS
	}
	return o.writePage(packet, granule, flags)
}

func (o *oggOpusWriter) writePage(packet []byte, granule uint64, flags byte) error {
	// lacing: runs of 255 terminated by a shorter value, 0 when the length is a multiple of 255
	nseg := len(packet)/255 + 1
	if nseg > 255 {
		return io.ErrShortBuffer
	}

	page := make([]byte, 27+nseg, 27+nseg+len(packet))
	copy(page, "OggS")
	page[4] = 0
	page[5] = flags
	binary.LittleEndian.PutUint64(page[6:], granule)
	binary.LittleEndian.PutUint32(page[14:], oggStreamSerial)
	binary.LittleEndian.PutUint32(page[18:], o.pageSeq)
	page[26] = byte(nseg)
	for i := 0; i < nseg-1; i++ {
		page[27+i] = 255
	}
	page[27+nseg-1] = byte(len(packet) % 255)
	page = append(page, packet...)

	binary.LittleEndian.PutUint32(page[22:], oggCRC(0, page))

	o.pageSeq++
	_, err := o.w.Write(page)
	return err
}
