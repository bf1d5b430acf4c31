// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package raster

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Multi-band FITS cubes. Format definition: https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Bands are stored as planes along NAXIS3, followed by the alpha plane if ALPHA=T.
// Georeferencing travels in GEOTRANn keys and HISTORY PROJ / HISTORY RPC cards.

const fitsBlockSize int = 2880  // Block size of FITS header and data units
const headerLineSize int = 80   // Line size of a FITS header
const bufLen int = 16 * 1024    // buffer length for reading and writing data
const maxValues int64 = 1 << 30 // upper bound on NAXIS1*NAXIS2*NAXIS3 when reading
const maxRPCKeyLen int = 32     // longest RPC key that leaves room for a value on a HISTORY card

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int64
	Floats   map[string]float64
	Strings  map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int64),
		Floats:   make(map[string]float64),
		Strings:  make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		End:      false,
	}
}

func (h *Header) popInt(key string, id int) (int64, error) {
	if val, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", id, key)
}

func (h *Header) popIntOrFloat(key string, id int) (float64, error) {
	if val, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return float64(val), nil
	} else if val, ok := h.Floats[key]; ok {
		delete(h.Floats, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", id, key)
}

// Reads a multi-band FITS image from the given reader
func ReadFITS(r io.Reader, id int, logWriter io.Writer) (*Image, error) {
	h := NewHeader()
	if err := h.read(r, id, logWriter); err != nil {
		return nil, err
	}

	// check mandatory fields as per standard
	if !h.Bools["SIMPLE"] {
		return nil, fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", id)
	}
	bitpix, err := h.popInt("BITPIX", id)
	if err != nil {
		return nil, err
	}
	naxis, err := h.popInt("NAXIS", id)
	if err != nil {
		return nil, err
	}
	if naxis < 2 || naxis > 3 {
		return nil, fmt.Errorf("%d: Unsupported NAXIS=%d, need 2 or 3 axes", id, naxis)
	}
	naxisn := []int64{1, 1, 1}
	for i := int64(1); i <= naxis; i++ {
		if naxisn[i-1], err = h.popInt("NAXIS"+strconv.FormatInt(i, 10), id); err != nil {
			return nil, err
		}
	}
	total := int64(1)
	for i, n := range naxisn {
		if n <= 0 || n > maxValues/total {
			return nil, fmt.Errorf("%d: Invalid NAXIS%d=%d, need 1 to %d values in total", id, i+1, n, maxValues)
		}
		total *= n
	}
	width, height, planes := int(naxisn[0]), int(naxisn[1]), int(naxisn[2])

	bzero, err := h.popIntOrFloat("BZERO", id)
	if err != nil {
		bzero = 0
	}
	bscale, err := h.popIntOrFloat("BSCALE", id)
	if err != nil {
		bscale = 1
	}

	hasAlpha := h.Bools["ALPHA"] && planes >= 2
	numBands := planes
	if hasAlpha {
		numBands--
	}

	data, err := readData(r, int(bitpix), width*height*planes, bscale, bzero, id)
	if err != nil {
		return nil, err
	}

	size := width * height
	bands := make([]*Band, numBands)
	for b := range bands {
		bands[b] = NewBand(width, height, data[b*size:(b+1)*size])
	}
	var alpha *Mask
	if hasAlpha {
		alpha = NewMask(width, height, data[numBands*size:(numBands+1)*size])
	}

	img, err := NewImage(bands, alpha, h.metadata())
	if err != nil {
		return nil, err
	}
	img.ID = id
	return img, nil
}

// Extracts georeferencing from header keys and history cards
func (h *Header) metadata() Metadata {
	md := Metadata{}
	gt, found := [6]float64{}, 0
	for i := range gt {
		if v, ok := h.Floats[fmt.Sprintf("GEOTRAN%d", i+1)]; ok {
			gt[i] = v
			found++
		} else if v, ok := h.Ints[fmt.Sprintf("GEOTRAN%d", i+1)]; ok {
			gt[i] = float64(v)
			found++
		}
	}
	if found == len(gt) {
		md.HasGeoTransform, md.GeoTransform = true, gt
	}

	proj := strings.Builder{}
	for _, line := range h.History {
		if strings.HasPrefix(line, "PROJ ") {
			proj.WriteString(quoted(line))
		} else if strings.HasPrefix(line, "RPC ") {
			kv := line[4:]
			eq := strings.Index(kv, "=")
			if eq < 0 {
				continue
			}
			if md.RPC == nil {
				md.RPC = map[string]string{}
			}
			md.RPC[strings.TrimSpace(kv[:eq])] += quoted(kv[eq+1:])
		}
	}
	md.Projection = proj.String()
	return md
}

// Returns the text between the first and the last single quote
func quoted(s string) string {
	first, last := strings.Index(s, "'"), strings.LastIndex(s, "'")
	if first < 0 || last <= first {
		return strings.TrimSpace(s)
	}
	return s[first+1 : last]
}

// Batched read of n values of the given type, converting from network byte order, applying bscale and bzero,
// and clamping to the uint16 range
func readData(r io.Reader, bitpix, n int, bscale, bzero float64, id int) ([]uint16, error) {
	var bytesPerValue int
	var decode func(b []byte) float64
	switch bitpix {
	case 8:
		bytesPerValue = 1
		decode = func(b []byte) float64 { return float64(b[0]) }
	case 16:
		bytesPerValue = 2
		decode = func(b []byte) float64 { return float64(int16(uint16(b[0])<<8 | uint16(b[1]))) }
	case 32:
		bytesPerValue = 4
		decode = func(b []byte) float64 {
			return float64(int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])))
		}
	case -32:
		bytesPerValue = 4
		decode = func(b []byte) float64 {
			return float64(math.Float32frombits(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])))
		}
	default:
		return nil, fmt.Errorf("%d: Unsupported BITPIX value %d", id, bitpix)
	}

	data := make([]uint16, n)
	buf := make([]byte, bufLen-bufLen%bytesPerValue)
	for dataIndex := 0; dataIndex < n; {
		bytesToRead := (n - dataIndex) * bytesPerValue
		if bytesToRead > len(buf) {
			bytesToRead = len(buf)
		}
		if _, err := io.ReadFull(r, buf[:bytesToRead]); err != nil {
			return nil, fmt.Errorf("%d: reading data: %s", id, err.Error())
		}
		for i := 0; i < bytesToRead; i += bytesPerValue {
			data[dataIndex] = clampUint16(decode(buf[i:i+bytesPerValue])*bscale + bzero)
			dataIndex++
		}
	}
	return data, nil
}

// Rounds to the nearest integer and clamps to [0,65535]. NaN maps to 0
func clampUint16(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(math.Round(v))
}

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)

	for h.Length = 0; !h.End; {
		// read next header unit
		bytesRead, err := io.ReadFull(r, buf)
		if err != nil || bytesRead != fitsBlockSize {
			return fmt.Errorf("%d: reading header: %v", id, err)
		}
		h.Length += int32(bytesRead)

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/headerLineSize && !h.End; lineNo++ {
			line := buf[lineNo*headerLineSize : (lineNo+1)*headerLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning: Cannot parse '%s', ignoring\n", id, string(line))
			} else {
				h.readLine(reParser.SubexpNames(), subValues, id, lineNo, logWriter)
			}
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte, id, lineNo int, logWriter io.Writer) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] != nil && len(subNames[i]) == 1 {
			switch c := subNames[i][0]; c {
			case byte('E'): // end line
				h.End = true
			case byte('H'): // history line
				h.History = append(h.History, strings.TrimRight(string(subValues[i]), " "))
			case byte('C'): // comment line
				h.Comments = append(h.Comments, strings.TrimRight(string(subValues[i]), " "))
			case byte('k'): // key
				key = string(subValues[i])
			case byte('b'): // boolean
				if len(subValues[i]) > 0 {
					v := subValues[i][0]
					h.Bools[key] = v == byte('t') || v == byte('T')
				}
			case byte('i'): // int
				if val, err := strconv.ParseInt(string(subValues[i]), 10, 64); err == nil {
					h.Ints[key] = val
				}
			case byte('f'): // float
				s := strings.Replace(string(subValues[i]), "D", "E", 1)
				if val, err := strconv.ParseFloat(s, 64); err == nil {
					h.Floats[key] = val
				}
			case byte('s'): // string
				h.Strings[key] = strings.TrimRight(string(subValues[i]), " ")
			case byte('c'): // comment
				// ignore value comments
			default:
				fmt.Fprintf(logWriter, "%d:%d: Warning: Unknown token '%s'\n", id, lineNo, string(c))
			}
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	histLine := "HISTORY" + white + "(?P<H>.*)"
	commLine := "COMMENT" + white + "(?P<C>.*)"
	endLine := "(?P<E>END)" + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>[^']*)'"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + ")"

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}

// Writes a multi-band image as a 16-bit FITS cube with trailing alpha plane
func WriteFITS(w io.Writer, img *Image) error {
	if err := img.Validate(); err != nil {
		return err
	}

	// Build header in string buffer
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt(&sb, "BITPIX", 16, "16-bit integers")
	writeInt(&sb, "NAXIS", 3, "[1] Number of axis")
	writeInt(&sb, "NAXIS1", int64(img.Width()), "[1] Axis size")
	writeInt(&sb, "NAXIS2", int64(img.Height()), "[1] Axis size")
	writeInt(&sb, "NAXIS3", int64(len(img.Bands)+1), "[1] Bands plus alpha")
	writeInt(&sb, "BZERO", 32768, "[1] Zero offset for unsigned values")
	writeInt(&sb, "BSCALE", 1, "[1] Value scaler")
	writeBool(&sb, "ALPHA", true, "Last plane is the alpha mask")
	md := img.Metadata
	if md.HasGeoTransform {
		for i, v := range md.GeoTransform {
			writeFloat64(&sb, fmt.Sprintf("GEOTRAN%d", i+1), v, "Affine georeferencing")
		}
	}
	for p := md.Projection; len(p) > 0; {
		chunk := p
		if len(chunk) > 64 {
			chunk = chunk[:64]
		}
		writeHistory(&sb, "PROJ '"+chunk+"'")
		p = p[len(chunk):]
	}
	rpcKeys := make([]string, 0, len(md.RPC))
	for k := range md.RPC {
		rpcKeys = append(rpcKeys, k)
	}
	sort.Strings(rpcKeys)
	for _, k := range rpcKeys {
		if len(k) == 0 || len(k) > maxRPCKeyLen {
			return fmt.Errorf("RPC key '%s' must have 1 to %d characters", k, maxRPCKeyLen)
		}
		// long coefficient lists are split over several cards with the same key
		chunkLen := 72 - len("RPC ='") - len(k) - 1
		for v := md.RPC[k]; ; {
			chunk := v
			if len(chunk) > chunkLen {
				chunk = chunk[:chunkLen]
			}
			writeHistory(&sb, "RPC "+k+"='"+chunk+"'")
			v = v[len(chunk):]
			if len(v) == 0 {
				break
			}
		}
	}
	writeEnd(&sb)

	// Pad current header block with spaces if necessary
	if bytesInHeaderBlock := sb.Len() % fitsBlockSize; bytesInHeaderBlock > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-bytesInHeaderBlock))
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	// Write payload data, then pad the data unit with zeros
	written := 0
	for _, b := range img.Bands {
		if err := writeUint16Array(w, b.Data); err != nil {
			return err
		}
		written += 2 * len(b.Data)
	}
	if err := writeUint16Array(w, img.Alpha.Data); err != nil {
		return err
	}
	written += 2 * len(img.Alpha.Data)
	if rest := written % fitsBlockSize; rest > 0 {
		if _, err := w.Write(make([]byte, fitsBlockSize-rest)); err != nil {
			return err
		}
	}
	return nil
}

// Writes a FITS header card, padded or truncated to the line size
func writeCard(w io.Writer, key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	line := fmt.Sprintf("%-8s= %20s / %s", key, value, comment)
	if len(line) > headerLineSize {
		line = line[:headerLineSize]
	}
	fmt.Fprintf(w, "%-80s", line)
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	writeCard(w, key, v, comment)
}

// Writes a FITS header integer value
func writeInt(w io.Writer, key string, value int64, comment string) {
	writeCard(w, key, strconv.FormatInt(value, 10), comment)
}

// Writes a FITS header float64 value in exponent notation with full precision
func writeFloat64(w io.Writer, key string, value float64, comment string) {
	s := strconv.FormatFloat(value, 'E', -1, 64)
	if !strings.Contains(s, ".") {
		e := strings.Index(s, "E")
		s = s[:e] + ".0" + s[e:]
	}
	writeCard(w, key, s, comment)
}

// Writes a FITS history line
func writeHistory(w io.Writer, text string) {
	if len(text) > 72 {
		text = text[:72]
	}
	fmt.Fprintf(w, "HISTORY %-72s", text)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", headerLineSize-3))
}

// Writes unsigned 16-bit data as signed FITS integers with BZERO=32768, in network byte order
func writeUint16Array(w io.Writer, data []uint16) error {
	buf := make([]byte, bufLen)

	for block := 0; block < len(data); block += (bufLen >> 1) {
		size := len(data) - block
		if size > (bufLen >> 1) {
			size = (bufLen >> 1)
		}

		for offset := 0; offset < size; offset++ {
			val := data[block+offset] ^ 0x8000
			buf[(offset<<1)+0] = byte(val >> 8)
			buf[(offset<<1)+1] = byte(val)
		}
		if _, err := w.Write(buf[:(size << 1)]); err != nil {
			return err
		}
	}
	return nil
}
