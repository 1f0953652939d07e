package anki

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultNoteType is used when a caller does not name one.
const DefaultNoteType = "Basic"

type noteField struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

type noteInfo struct {
	NoteID    int64                `json:"noteId"`
	ModelName string               `json:"modelName"`
	Tags      []string             `json:"tags"`
	Fields    map[string]noteField `json:"fields"`
	Cards     []int64              `json:"cards"`
}

// fieldNames returns the field names ordered as the note type declares them.
func (n noteInfo) fieldNames() []string {
	names := make([]string, 0, len(n.Fields))
	for name := range n.Fields {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return n.Fields[names[i]].Order < n.Fields[names[j]].Order
	})
	return names
}

func (n noteInfo) note() Note {
	out := Note{ID: n.NoteID, ModelName: n.ModelName, Tags: n.Tags, CardIDs: n.Cards}
	names := n.fieldNames()
	if len(names) > 0 {
		out.Front = n.Fields[names[0]].Value
	}
	if len(names) > 1 {
		out.Back = n.Fields[names[1]].Value
	}
	return out
}

type newNote struct {
	DeckName  string            `json:"deckName"`
	ModelName string            `json:"modelName"`
	Fields    map[string]string `json:"fields"`
	Tags      []string          `json:"tags"`
	Options   map[string]any    `json:"options"`
}

type canAddDetail struct {
	CanAdd bool   `json:"canAdd"`
	Error  string `json:"error"`
}

func (c *Client) notesInfo(ctx context.Context, ids []int64) ([]noteInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var infos []noteInfo
	if err := c.call(ctx, "notesInfo", map[string]any{"notes": ids}, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// modelFields returns the front and back field names of a note type.
func (c *Client) modelFields(ctx context.Context, noteType string) (string, string, error) {
	if noteType == DefaultNoteType {
		return "Front", "Back", nil
	}
	var fields []string
	if err := c.call(ctx, "modelFieldNames", map[string]any{"modelName": noteType}, &fields); err != nil {
		return "", "", err
	}
	if len(fields) < 2 {
		return "", "", validationErr("modelFieldNames", "note type %q needs at least two fields", noteType)
	}
	return fields[0], fields[1], nil
}

func buildNote(deck, noteType, frontField, backField string, spec CardSpec) newNote {
	tags := spec.Tags
	if tags == nil {
		tags = []string{}
	}
	return newNote{
		DeckName:  deck,
		ModelName: noteType,
		Fields:    map[string]string{frontField: spec.Front, backField: spec.Back},
		Tags:      tags,
		Options:   map[string]any{"allowDuplicate": false},
	}
}

func checkSpec(spec CardSpec) string {
	switch {
	case strings.TrimSpace(spec.Front) == "":
		return "front is empty"
	case strings.TrimSpace(spec.Back) == "":
		return "back is empty"
	}
	return ""
}

func isDuplicateMsg(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "duplicate")
}

// AddNote creates one note. A duplicate is reported as StatusDuplicate, not as an error;
// other rejections come back as StatusFailed with the store's message.
func (c *Client) AddNote(ctx context.Context, deck, noteType string, spec CardSpec) (ItemOutcome, error) {
	deck = strings.TrimSpace(deck)
	if deck == "" {
		return ItemOutcome{}, validationErr("addNote", "deck name is empty")
	}
	if reason := checkSpec(spec); reason != "" {
		return ItemOutcome{}, validationErr("addNote", "%s", reason)
	}
	if noteType == "" {
		noteType = DefaultNoteType
	}
	frontField, backField, err := c.modelFields(ctx, noteType)
	if err != nil {
		return ItemOutcome{}, err
	}
	return c.addOne(ctx, buildNote(deck, noteType, frontField, backField, spec), spec.Front)
}

func (c *Client) addOne(ctx context.Context, n newNote, front string) (ItemOutcome, error) {
	out := ItemOutcome{Front: front}
	var id int64
	err := c.call(ctx, "addNote", map[string]any{"note": n}, &id)
	switch {
	case err == nil:
		out.Status = StatusCreated
		out.NoteID = id
	case KindOf(err) == KindRemote:
		out.Reason = err.(*Error).Msg
		out.Status = StatusFailed
		if isDuplicateMsg(out.Reason) {
			out.Status = StatusDuplicate
		}
	default:
		return ItemOutcome{}, err
	}
	return out, nil
}

// AddNotes creates a batch of notes in one deck. The result holds exactly one
// outcome per input spec, in input order. Only an unreachable store (or an
// invalid deck) fails the whole call.
func (c *Client) AddNotes(ctx context.Context, deck, noteType string, specs []CardSpec) (BulkResult, error) {
	deck = strings.TrimSpace(deck)
	if deck == "" {
		return BulkResult{}, validationErr("addNotes", "deck name is empty")
	}
	if len(specs) == 0 {
		return BulkResult{}, validationErr("addNotes", "no cards given")
	}
	if noteType == "" {
		noteType = DefaultNoteType
	}
	frontField, backField, err := c.modelFields(ctx, noteType)
	if err != nil {
		return BulkResult{}, err
	}

	res := newBulkResult(len(specs))
	pending := make([]int, 0, len(specs))
	for i, spec := range specs {
		res.Items[i].Front = spec.Front
		if reason := checkSpec(spec); reason != "" {
			res.Items[i].Status = StatusFailed
			res.Items[i].Reason = reason
			continue
		}
		pending = append(pending, i)
	}

	build := func(idx []int) []newNote {
		notes := make([]newNote, 0, len(idx))
		for _, i := range idx {
			notes = append(notes, buildNote(deck, noteType, frontField, backField, specs[i]))
		}
		return notes
	}

	if len(pending) > 0 {
		details, err := c.canAdd(ctx, build(pending))
		if err != nil {
			return BulkResult{}, err
		}
		if len(details) == len(pending) {
			kept := make([]int, 0, len(pending))
			for k, i := range pending {
				if details[k].CanAdd {
					kept = append(kept, i)
					continue
				}
				res.Items[i].Status = StatusDuplicate
				res.Items[i].Reason = details[k].Error
				if details[k].Error != "" && !isDuplicateMsg(details[k].Error) {
					res.Items[i].Status = StatusFailed
				}
				if res.Items[i].Reason == "" {
					res.Items[i].Reason = "duplicate"
				}
			}
			pending = kept
		}
	}

	if len(pending) > 0 {
		if err := c.addBatch(ctx, build(pending), pending, &res); err != nil {
			return BulkResult{}, err
		}
	}
	res.tally(StatusCreated)
	c.logger.Info("anki bulk add", "deck", deck, "requested", len(specs), "created", res.Succeeded, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// canAdd pre-checks notes; it returns nil details when neither check action is supported.
func (c *Client) canAdd(ctx context.Context, notes []newNote) ([]canAddDetail, error) {
	var details []canAddDetail
	err := c.call(ctx, "canAddNotesWithErrorDetail", map[string]any{"notes": notes}, &details)
	if err == nil {
		return details, nil
	}
	if KindOf(err) != KindRemote {
		return nil, err
	}
	var flags []bool
	if err := c.call(ctx, "canAddNotes", map[string]any{"notes": notes}, &flags); err != nil {
		if KindOf(err) == KindRemote {
			return nil, nil
		}
		return nil, err
	}
	details = make([]canAddDetail, len(flags))
	for i, ok := range flags {
		details[i].CanAdd = ok
	}
	return details, nil
}

// addBatch sends addNotes and fills outcomes for idx. addNotes sets the error
// field for partial failures while still returning the id list, so the raw
// envelope is read directly.
func (c *Client) addBatch(ctx context.Context, notes []newNote, idx []int, res *BulkResult) error {
	raw, err := c.do(ctx, "addNotes", map[string]any{"notes": notes})
	if err != nil {
		return err
	}
	var ids []*int64
	batchErr := ""
	if raw.Error != nil {
		batchErr = *raw.Error
	}
	if len(raw.Result) > 0 && string(raw.Result) != "null" {
		if err := json.Unmarshal(raw.Result, &ids); err != nil {
			return &Error{Kind: KindProtocol, Action: "addNotes", Msg: "decode result: " + err.Error(), Err: err}
		}
	}
	if len(ids) != len(idx) {
		// No usable list: add one at a time so every item still gets a precise outcome.
		for k, i := range idx {
			out, err := c.addOne(ctx, notes[k], res.Items[i].Front)
			if err != nil {
				return err
			}
			out.Index = i
			res.Items[i] = out
		}
		return nil
	}
	for k, i := range idx {
		if ids[k] != nil {
			res.Items[i].Status = StatusCreated
			res.Items[i].NoteID = *ids[k]
			continue
		}
		res.Items[i].Status = StatusFailed
		res.Items[i].Reason = batchErr
		if batchErr == "" {
			res.Items[i].Reason = "rejected by Anki"
		}
		if isDuplicateMsg(batchErr) {
			res.Items[i].Status = StatusDuplicate
		}
	}
	return nil
}

// GetNote returns one note or a KindNotFound error.
func (c *Client) GetNote(ctx context.Context, id int64) (Note, error) {
	if id <= 0 {
		return Note{}, validationErr("notesInfo", "invalid note id %d", id)
	}
	infos, err := c.notesInfo(ctx, []int64{id})
	if err != nil {
		return Note{}, err
	}
	if len(infos) == 0 || infos[0].NoteID == 0 {
		return Note{}, &Error{Kind: KindNotFound, Action: "notesInfo", Msg: fmt.Sprintf("note %d not found", id)}
	}
	return infos[0].note(), nil
}

// UpdateNote applies u to an existing note. A missing note yields
// StatusNotFound with nothing changed.
func (c *Client) UpdateNote(ctx context.Context, u NoteUpdate) (ItemOutcome, error) {
	if u.ID <= 0 {
		return ItemOutcome{}, validationErr("updateNote", "invalid note id %d", u.ID)
	}
	if u.Front == nil && u.Back == nil && u.Tags == nil {
		return ItemOutcome{}, validationErr("updateNote", "nothing to update for note %d", u.ID)
	}
	out := ItemOutcome{NoteID: u.ID}
	infos, err := c.notesInfo(ctx, []int64{u.ID})
	if err != nil {
		return ItemOutcome{}, err
	}
	if len(infos) == 0 || infos[0].NoteID == 0 {
		out.Status = StatusNotFound
		out.Reason = fmt.Sprintf("note %d not found", u.ID)
		return out, nil
	}
	cur := infos[0]
	names := cur.fieldNames()
	payload := map[string]any{"id": u.ID}
	fields := map[string]string{}
	if u.Front != nil && len(names) > 0 {
		fields[names[0]] = *u.Front
		out.Front = *u.Front
	}
	if u.Back != nil && len(names) > 1 {
		fields[names[1]] = *u.Back
	}
	if len(fields) > 0 {
		payload["fields"] = fields
	}
	if u.Tags != nil {
		payload["tags"] = u.Tags
	}
	if out.Front == "" {
		out.Front = cur.note().Front
	}
	if err := c.call(ctx, "updateNote", map[string]any{"note": payload}, nil); err != nil {
		if KindOf(err) != KindRemote {
			return ItemOutcome{}, err
		}
		out.Status = StatusFailed
		out.Reason = err.(*Error).Msg
		return out, nil
	}
	out.Status = StatusUpdated
	return out, nil
}

// UpdateNotes applies updates sequentially with one outcome per input.
func (c *Client) UpdateNotes(ctx context.Context, updates []NoteUpdate) (BulkResult, error) {
	if len(updates) == 0 {
		return BulkResult{}, validationErr("updateNote", "no updates given")
	}
	res := newBulkResult(len(updates))
	for i, u := range updates {
		out, err := c.UpdateNote(ctx, u)
		if err != nil {
			if KindOf(err) != KindValidation {
				return BulkResult{}, err
			}
			out = ItemOutcome{NoteID: u.ID, Status: StatusFailed, Reason: err.(*Error).Msg}
		}
		out.Index = i
		res.Items[i] = out
	}
	res.tally(StatusUpdated)
	return res, nil
}

// DeleteNotes deletes the notes that exist among ids and returns how many were removed.
func (c *Client) DeleteNotes(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, validationErr("deleteNotes", "no note ids given")
	}
	infos, err := c.notesInfo(ctx, ids)
	if err != nil {
		return 0, err
	}
	existing := make([]int64, 0, len(infos))
	for _, info := range infos {
		if info.NoteID != 0 {
			existing = append(existing, info.NoteID)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	if err := c.call(ctx, "deleteNotes", map[string]any{"notes": existing}, nil); err != nil {
		return 0, err
	}
	return len(existing), nil
}

func (c *Client) AddTags(ctx context.Context, ids []int64, tags []string) error {
	return c.tagAction(ctx, "addTags", ids, tags)
}

func (c *Client) RemoveTags(ctx context.Context, ids []int64, tags []string) error {
	return c.tagAction(ctx, "removeTags", ids, tags)
}

func (c *Client) tagAction(ctx context.Context, action string, ids []int64, tags []string) error {
	if len(ids) == 0 {
		return validationErr(action, "no note ids given")
	}
	joined := strings.TrimSpace(strings.Join(tags, " "))
	if joined == "" {
		return validationErr(action, "no tags given")
	}
	return c.call(ctx, action, map[string]any{"notes": ids, "tags": joined}, nil)
}

// MoveNotes moves every card of the given notes into deck and returns the card count.
func (c *Client) MoveNotes(ctx context.Context, noteIDs []int64, deck string) (int, error) {
	deck = strings.TrimSpace(deck)
	if deck == "" {
		return 0, validationErr("changeDeck", "deck name is empty")
	}
	if len(noteIDs) == 0 {
		return 0, validationErr("changeDeck", "no note ids given")
	}
	parts := make([]string, len(noteIDs))
	for i, id := range noteIDs {
		parts[i] = fmt.Sprint(id)
	}
	var cardIDs []int64
	if err := c.call(ctx, "findCards", map[string]any{"query": "nid:" + strings.Join(parts, ",")}, &cardIDs); err != nil {
		return 0, err
	}
	if len(cardIDs) == 0 {
		return 0, &Error{Kind: KindNotFound, Action: "findCards", Msg: "no cards found for the given notes"}
	}
	if err := c.call(ctx, "changeDeck", map[string]any{"cards": cardIDs, "deck": deck}, nil); err != nil {
		return 0, err
	}
	return len(cardIDs), nil
}
