package mkv

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/mkvrecorder/internal/ebml"
	"github.com/bugVanisher/mkvrecorder/internal/media"
)

const (
	seekHeadReserve = 1024
	infoReserve     = 1024
)

// cueEntry is one pending Cues row: a video keyframe's timestamp, track and
// the Segment-relative file position of the Cluster that contains it.
type cueEntry struct {
	timeMS      int64
	trackNumber int
	clusterPos  int64
}

// Writer is the Matroska container engine's write side: creation, cluster
// lifecycle, and the finalization sequence. One Writer instance owns the
// output file for the duration of a recorder open→close session.
type Writer struct {
	f    *os.File
	path string

	createMode bool

	segmentPatch *ebml.MasterPatch
	segmentStart int64 // payload offset, i.e. position origin for Seek/Cue positions

	seekHeadOffset int64
	infoOffset     int64 // == "segment-info position" from spec §4.2
	tracksOffset   int64 // append cursor: where Clusters end and Tracks begins

	tracks []TrackInfo

	clusterPatch    *ebml.MasterPatch
	clusterTimeMS   int64
	clusterHasBlock bool
	clusterCount    int

	cues       []cueEntry
	cuesOffset int64

	durationMS   int64
	globalOrigin int64
	segmentUID   []byte

	closed bool
}

// Create builds a brand-new Matroska file: Header, Segment with a reserved
// 8-byte size, an empty reserved SeekHead region, and a reserved Info
// region, per spec §4.2.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "mkv: create %s", path)
	}
	if err := ebml.WriteMaster(f, ebml.IDEBMLHeader, renderEBMLHeader()); err != nil {
		f.Close()
		return nil, err
	}
	patch, err := ebml.StartUnknownSizeMaster(f, ebml.IDSegment, 8)
	if err != nil {
		f.Close()
		return nil, err
	}
	sessionUID := uuid.New()
	w := &Writer{
		f:            f,
		path:         path,
		createMode:   true,
		segmentPatch: patch,
		segmentStart: patch.PayloadStart,
		segmentUID:   sessionUID[:],
	}
	w.seekHeadOffset, err = f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := ebml.WriteVoidFootprint(f, seekHeadReserve); err != nil {
		f.Close()
		return nil, err
	}
	w.infoOffset, err = f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := ebml.WriteVoidFootprint(f, infoReserve); err != nil {
		f.Close()
		return nil, err
	}
	w.tracksOffset, err = f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// OpenAppend reopens an existing, previously-finalized file for continued
// writing: it re-derives the reserved-region offsets (always 1024 bytes
// each, by construction of this writer), recovers Tracks and SegmentInfo,
// and positions the write cursor at the start of the old Tracks element —
// new Clusters are written there, and Tracks/Cues/SeekHead are rewritten at
// the next close.
func OpenAppend(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "mkv: open-append %s", path)
	}
	w, err := reopen(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.createMode = false
	return w, nil
}

func reopen(f *os.File, path string) (*Writer, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	hdr, err := ebml.ReadElementHeader(f)
	if err != nil {
		return nil, errors.Wrap(err, "mkv: reading EBML header")
	}
	if !bytes.Equal(hdr.ID, ebml.IDEBMLHeader) {
		return nil, errors.New("mkv: not an EBML file")
	}
	headerPayload := make([]byte, hdr.Size)
	if _, err := io.ReadFull(f, headerPayload); err != nil {
		return nil, errors.Wrap(err, "mkv: reading EBML header payload")
	}
	if docType, ok := findString(headerPayload, ebml.IDDocType); !ok || docType != "matroska" {
		log.Warn().Str("doctype", docType).Msg("mkv: unrecognized DocType, assuming matroska profile")
	}

	seg, err := ebml.ReadElementHeader(f)
	if err != nil {
		return nil, errors.Wrap(err, "mkv: reading Segment header")
	}
	if !bytes.Equal(seg.ID, ebml.IDSegment) {
		return nil, errors.New("mkv: expected Segment element")
	}

	w := &Writer{
		f:    f,
		path: path,
		segmentPatch: &ebml.MasterPatch{
			IDOffset:     seg.Offset,
			SizeOffset:   seg.Offset + int64(len(seg.ID)),
			Width:        8,
			PayloadStart: seg.DataOffset,
		},
		segmentStart:   seg.DataOffset,
		seekHeadOffset: seg.DataOffset,
		infoOffset:     seg.DataOffset + seekHeadReserve,
		tracksOffset:   seg.DataOffset + seekHeadReserve + infoReserve,
	}

	if _, err := f.Seek(w.infoOffset, io.SeekStart); err != nil {
		return nil, err
	}
	infoEl, err := ebml.ReadElementHeader(f)
	if err != nil {
		return nil, errors.Wrap(err, "mkv: reading SegmentInfo")
	}
	if bytes.Equal(infoEl.ID, ebml.IDInfo) {
		payload := make([]byte, infoEl.Size)
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil, err
		}
		if dur, ok := findFloat(payload, ebml.IDDuration); ok {
			w.durationMS = int64(dur)
			w.globalOrigin = int64(dur)
		}
		if uid, ok := findBytes(payload, ebml.IDSegmentUID); ok {
			w.segmentUID = uid
		}
	}
	if len(w.segmentUID) == 0 {
		sessionUID := uuid.New()
		w.segmentUID = sessionUID[:]
	}

	if _, err := f.Seek(w.tracksOffset, io.SeekStart); err != nil {
		return nil, err
	}
	tracksEl, err := ebml.ReadElementHeader(f)
	if err != nil {
		return nil, errors.Wrap(err, "mkv: reading Tracks")
	}
	if bytes.Equal(tracksEl.ID, ebml.IDTracks) {
		payload := make([]byte, tracksEl.Size)
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil, err
		}
		w.tracks, err = parseTracks(payload)
		if err != nil {
			return nil, err
		}
	}

	if _, err := f.Seek(w.tracksOffset, io.SeekStart); err != nil {
		return nil, err
	}
	return w, nil
}

// OpenRead is OpenAppend without the intent to write further clusters; the
// recorder never calls it, the player does not need it (it uses Reader,
// which wraps a dedicated Matroska parser), but it is kept as the symmetric
// read-only entry point spec §4.2 names.
func OpenRead(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "mkv: open-read %s", path)
	}
	w, err := reopen(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.createMode = false
	return w, nil
}

// Tracks returns the tracks known to this writer (configured on create, or
// recovered from an existing file on append).
func (w *Writer) Tracks() []TrackInfo { return w.tracks }

// GlobalOrigin is the duration already present on file: 0 when creating,
// the prior Duration when appending. The time corrector anchors the first
// emitted frame here.
func (w *Writer) GlobalOrigin() int64 { return w.globalOrigin }

// SetTracks registers the pin→track mapping used by Create mode (append
// mode recovers this from the existing file instead).
func (w *Writer) SetTracks(tracks []TrackInfo) { w.tracks = tracks }

// StartCluster appends a new Cluster with an 8-byte reserved size and the
// given Timecode, per spec's cluster lifecycle.
func (w *Writer) StartCluster(timeMS int64) error {
	if w.clusterPatch != nil {
		return errors.New("mkv: cluster already open")
	}
	patch, err := ebml.StartUnknownSizeMaster(w.f, ebml.IDCluster, 8)
	if err != nil {
		return err
	}
	if err := ebml.WriteUint(w.f, ebml.IDTimecode, uint64(timeMS)); err != nil {
		return err
	}
	w.clusterPatch = patch
	w.clusterTimeMS = timeMS
	w.clusterHasBlock = false
	w.clusterCount++
	return nil
}

// ClusterOpen reports whether a cluster is currently being written.
func (w *Writer) ClusterOpen() bool { return w.clusterPatch != nil }

// ClusterTimeMS is the Timecode of the currently open cluster.
func (w *Writer) ClusterTimeMS() int64 { return w.clusterTimeMS }

// CloseCluster back-patches the cluster's size, or — if it never received a
// SimpleBlock — replaces its entire footprint with an equally-sized Void,
// per the Cluster invariant.
func (w *Writer) CloseCluster() error {
	if w.clusterPatch == nil {
		return nil
	}
	patch := w.clusterPatch
	w.clusterPatch = nil
	if !w.clusterHasBlock {
		footprint, err := patch.Footprint(w.f)
		if err != nil {
			return err
		}
		w.clusterCount--
		return ebml.ReplaceWithVoid(w.f, patch.IDOffset, footprint)
	}
	_, err := patch.PatchSize(w.f)
	return err
}

// WriteBlock adds a SimpleBlock to the current cluster. frame.Timestamp is
// in container milliseconds; the stored relative timecode is frame time
// minus the cluster's own Timecode (TimecodeScale is fixed at 1 ms so no
// further rescale is needed).
func (w *Writer) WriteBlock(frame *media.Frame, trackNumber int, keyframe bool) error {
	if w.clusterPatch == nil {
		return errors.New("mkv: no open cluster")
	}
	rel := frame.Timestamp - w.clusterTimeMS
	if rel < -(1<<15) || rel > (1<<15)-1 {
		return errors.New("mkv: block timecode out of cluster's int16 range")
	}
	body := renderSimpleBlock(trackNumber, rel, keyframe, frame.Data)
	if err := ebml.WriteMaster(w.f, ebml.IDSimpleBlock, body); err != nil {
		return err
	}
	w.clusterHasBlock = true
	if frame.Timestamp > w.durationMS {
		w.durationMS = frame.Timestamp
	}
	return nil
}

// AddCue appends a CuePoint for a just-written video keyframe block to the
// pending Cues list, linking it to the current cluster's Segment-relative
// position.
func (w *Writer) AddCue(frame *media.Frame, trackNumber int) error {
	if w.clusterPatch == nil {
		return errors.New("mkv: no open cluster")
	}
	w.cues = append(w.cues, cueEntry{
		timeMS:      frame.Timestamp,
		trackNumber: trackNumber,
		clusterPos:  w.clusterPatch.IDOffset - w.segmentStart,
	})
	return nil
}

// Duration is the running duration (max block timestamp seen so far), used
// by the recorder's Duration() accessor while still Running.
func (w *Writer) Duration() int64 { return w.durationMS }

// Close runs the finalization sequence of spec §4.2 / §9: close the current
// cluster, render Cues (or drop them), rewrite Info/Tracks/SeekHead, then
// close_segment (prune/sort/Void-fill/back-patch). Every step is attempted
// even if an earlier one only warned; only an invariant violation from
// close_segment leaves the file possibly unusable.
func (w *Writer) Close(writingApp, muxingApp string) error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.f.Close()

	if err := w.CloseCluster(); err != nil {
		log.Warn().Err(err).Msg("mkv: close_cluster failed during finalize")
	}

	var cuesPos int64
	hasCues := len(w.cues) > 0
	if hasCues {
		if err := w.writeCues(); err != nil {
			log.Warn().Err(err).Msg("mkv: write_cues failed")
			hasCues = false
		} else {
			cuesPos = w.cuesOffset - w.segmentStart
		}
	}

	finalDuration := w.durationMS + 1
	infoPayload := renderInfo(finalDuration, writingApp, muxingApp, w.segmentUID)
	if err := ebml.RewriteReservedRegion(w.f, w.infoOffset, infoReserve, mustMaster(ebml.IDInfo, infoPayload)); err != nil {
		log.Warn().Err(err).Msg("mkv: rewriting SegmentInfo failed")
	}

	tracksPayload := renderTracks(w.tracks)
	tracksElement := mustMaster(ebml.IDTracks, tracksPayload)
	if _, err := w.f.Seek(w.tracksOffset, io.SeekStart); err != nil {
		log.Warn().Err(err).Msg("mkv: seeking to Tracks position failed")
	} else if _, err := w.f.Write(tracksElement); err != nil {
		log.Warn().Err(err).Msg("mkv: writing Tracks failed")
	}
	tracksPos := w.tracksOffset - w.segmentStart

	seekHeadPayload := renderSeekHead(w.infoOffset-w.segmentStart, tracksPos, cuesPos, hasCues)
	if err := ebml.RewriteReservedRegion(w.f, w.seekHeadOffset, seekHeadReserve, mustMaster(ebml.IDSeekHead, seekHeadPayload)); err != nil {
		log.Warn().Err(err).Msg("mkv: rewriting SeekHead failed")
	}

	if err := w.closeSegment(); err != nil {
		log.Error().Err(err).Msg("mkv: close_segment failed, file may be unusable")
		return err
	}
	return nil
}

func (w *Writer) writeCues() error {
	pos, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	w.cuesOffset = pos
	var buf bytes.Buffer
	for _, c := range w.cues {
		var pbuf bytes.Buffer
		ebml.WriteUint(&pbuf, ebml.IDCueTrack, uint64(c.trackNumber))
		ebml.WriteUint(&pbuf, ebml.IDCueClusterPos, uint64(c.clusterPos))
		var cbuf bytes.Buffer
		ebml.WriteUint(&cbuf, ebml.IDCueTime, uint64(c.timeMS))
		if err := ebml.WriteMaster(&cbuf, ebml.IDCueTrackPos, pbuf.Bytes()); err != nil {
			return err
		}
		if err := ebml.WriteMaster(&buf, ebml.IDCuePoint, cbuf.Bytes()); err != nil {
			return err
		}
	}
	return ebml.WriteMaster(w.f, ebml.IDCues, buf.Bytes())
}

// closeSegment implements spec's close_segment: recompute the segment's
// effective size, prune zero/negative-size children, sort by file position,
// Void-fill inter-child gaps (erroring on a sub-2-byte gap), and back-patch
// the Segment header without changing its width.
func (w *Writer) closeSegment() error {
	end, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	children, err := w.walkSegmentChildren(end)
	if err != nil {
		return errors.Wrap(err, "mkv: closeSegment: structural walk failed")
	}
	sort.Slice(children, func(i, j int) bool { return children[i].offset < children[j].offset })

	cursor := w.segmentStart
	for _, c := range children {
		if c.size <= 0 {
			continue
		}
		gap := c.offset - cursor
		if gap == 1 {
			return ebml.ErrGapTooSmall
		}
		if gap >= 2 {
			if err := w.fillGap(cursor, gap); err != nil {
				return err
			}
		}
		cursor = c.offset + c.size
	}
	if err := w.f.Truncate(cursor); err != nil {
		return err
	}
	if _, err := w.segmentPatch.PatchSize(w.f); err != nil {
		return err
	}
	_, err = w.f.Seek(0, io.SeekEnd)
	return err
}

func (w *Writer) fillGap(offset, size int64) error {
	if _, err := w.f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	return ebml.WriteVoidFootprint(w.f, size)
}

type segChild struct {
	offset int64
	size   int64
}

// walkSegmentChildren re-reads the Segment's top-level children from the
// reserved SeekHead region through the last byte currently written.
func (w *Writer) walkSegmentChildren(end int64) ([]segChild, error) {
	var out []segChild
	pos := w.segmentStart
	for pos < end {
		if _, err := w.f.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
		hdr, err := ebml.ReadElementHeader(w.f)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, err
		}
		footprint := hdr.DataOffset + int64(hdr.Size) - hdr.Offset
		out = append(out, segChild{offset: hdr.Offset, size: footprint})
		pos = hdr.DataOffset + int64(hdr.Size)
	}
	return out, nil
}

func mustMaster(id, payload []byte) []byte {
	var buf bytes.Buffer
	_ = ebml.WriteMaster(&buf, id, payload)
	return buf.Bytes()
}

func renderEBMLHeader() []byte {
	var buf bytes.Buffer
	ebml.WriteUint(&buf, ebml.IDVersion, 1)
	ebml.WriteUint(&buf, ebml.IDReadVersion, 1)
	ebml.WriteUint(&buf, ebml.IDMaxIDLength, 4)
	ebml.WriteUint(&buf, ebml.IDMaxSizeLen, 8)
	ebml.WriteString(&buf, ebml.IDDocType, "matroska")
	ebml.WriteUint(&buf, ebml.IDDocTypeVer, 2)
	ebml.WriteUint(&buf, ebml.IDDocTypeRead, 2)
	return buf.Bytes()
}

func renderInfo(durationMS int64, writingApp, muxingApp string, segmentUID []byte) []byte {
	var buf bytes.Buffer
	ebml.WriteUint(&buf, ebml.IDTimecodeScale, TimecodeScaleNS)
	ebml.WriteFloat64(&buf, ebml.IDDuration, float64(durationMS))
	if len(segmentUID) > 0 {
		ebml.WriteBytes(&buf, ebml.IDSegmentUID, segmentUID)
	}
	ebml.WriteString(&buf, ebml.IDMuxingApp, muxingApp)
	ebml.WriteString(&buf, ebml.IDWritingApp, writingApp)
	return buf.Bytes()
}

func renderSeekHead(infoPos, tracksPos, cuesPos int64, hasCues bool) []byte {
	var buf bytes.Buffer
	writeSeek := func(id []byte, pos int64) {
		var sbuf bytes.Buffer
		ebml.WriteBytes(&sbuf, ebml.IDSeekID, id)
		ebml.WriteUint(&sbuf, ebml.IDSeekPos, uint64(pos))
		ebml.WriteMaster(&buf, ebml.IDSeek, sbuf.Bytes())
	}
	writeSeek(ebml.IDInfo, infoPos)
	writeSeek(ebml.IDTracks, tracksPos)
	if hasCues {
		writeSeek(ebml.IDCues, cuesPos)
	}
	return buf.Bytes()
}

func renderTrackEntry(t TrackInfo) []byte {
	var buf bytes.Buffer
	ebml.WriteUint(&buf, ebml.IDTrackNumber, uint64(t.Number))
	ebml.WriteUint(&buf, ebml.IDTrackUID, uint64(t.Number))
	trackType := uint64(ebml.TrackTypeAudio)
	if t.Kind == media.Video {
		trackType = ebml.TrackTypeVideo
	}
	ebml.WriteUint(&buf, ebml.IDTrackType, trackType)
	ebml.WriteUint(&buf, ebml.IDFlagEnabled, 1)
	ebml.WriteUint(&buf, ebml.IDFlagDefault, 1)
	ebml.WriteUint(&buf, ebml.IDFlagForced, 0)
	ebml.WriteUint(&buf, ebml.IDFlagLacing, 0)
	ebml.WriteUint(&buf, ebml.IDMinCache, 1)
	ebml.WriteUint(&buf, ebml.IDMaxBlockAdditionID, 0)
	ebml.WriteString(&buf, ebml.IDCodecID, t.CodecID)
	ebml.WriteUint(&buf, ebml.IDCodecDecodeAll, 0)
	if len(t.CodecPrivate) > 0 {
		ebml.WriteBytes(&buf, ebml.IDCodecPrivate, t.CodecPrivate)
	}
	if t.Kind == media.Video {
		var vbuf bytes.Buffer
		ebml.WriteUint(&vbuf, ebml.IDFlagInterlaced, 0)
		ebml.WriteUint(&vbuf, ebml.IDPixelWidth, uint64(t.Width))
		ebml.WriteUint(&vbuf, ebml.IDPixelHeight, uint64(t.Height))
		ebml.WriteMaster(&buf, ebml.IDVideo, vbuf.Bytes())
	} else {
		var abuf bytes.Buffer
		ebml.WriteFloat64(&abuf, ebml.IDSamplingFrequency, t.SamplingFreq)
		ebml.WriteUint(&abuf, ebml.IDChannels, uint64(t.Channels))
		ebml.WriteMaster(&buf, ebml.IDAudio, abuf.Bytes())
	}
	return buf.Bytes()
}

func renderTracks(tracks []TrackInfo) []byte {
	var buf bytes.Buffer
	for _, t := range tracks {
		ebml.WriteMaster(&buf, ebml.IDTrackEntry, renderTrackEntry(t))
	}
	return buf.Bytes()
}

func renderSimpleBlock(trackNumber int, relativeMS int64, keyframe bool, data []byte) []byte {
	var buf bytes.Buffer
	tn, _ := ebml.EncodeVInt(uint64(trackNumber), ebml.MinWidth(uint64(trackNumber)))
	buf.Write(tn)
	var tc [2]byte
	binary.BigEndian.PutUint16(tc[:], uint16(int16(relativeMS)))
	buf.Write(tc[:])
	var flags byte
	if keyframe {
		flags |= ebml.SimpleBlockKeyframe
	}
	buf.WriteByte(flags)
	buf.Write(data)
	return buf.Bytes()
}
