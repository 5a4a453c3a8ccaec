package sandbox

import (
	"fmt"
	"strconv"
	"time"
)

// ActionKind discriminates UIAction variants.
type ActionKind string

const (
	ActionScreenshot  ActionKind = "screenshot"
	ActionClick       ActionKind = "click"
	ActionDoubleClick ActionKind = "double_click"
	ActionRightClick  ActionKind = "right_click"
	ActionType        ActionKind = "type"
	ActionKey         ActionKind = "key"
	ActionScroll      ActionKind = "scroll"
	ActionMove        ActionKind = "move"
	ActionDrag        ActionKind = "drag"
	ActionWait        ActionKind = "wait"
)

// UIAction is a single semantic desktop interaction. Only the fields
// relevant to the Kind are read; the rest stay zero.
type UIAction struct {
	Kind ActionKind `json:"type"`

	// click / double_click / right_click / move / drag
	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`

	// drag target
	TargetX int `json:"target_x,omitempty"`
	TargetY int `json:"target_y,omitempty"`

	// type
	Text string `json:"text,omitempty"`

	// key (xdotool keysym or chord, e.g. "Return", "ctrl+s")
	Key string `json:"key,omitempty"`

	// scroll
	ScrollDirection string `json:"scroll_direction,omitempty"` // up, down, left, right
	ScrollAmount    int    `json:"scroll_amount,omitempty"`

	// wait
	Duration time.Duration `json:"duration,omitempty"`

	// human-readable intent, carried through to the result for the caller
	Description string `json:"description,omitempty"`
}

// Validate rejects actions whose kind is unknown.
func (a UIAction) Validate() error {
	switch a.Kind {
	case ActionScreenshot, ActionClick, ActionDoubleClick, ActionRightClick,
		ActionType, ActionKey, ActionScroll, ActionMove, ActionDrag, ActionWait:
		return nil
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidRequest, a.Kind)
	}
}

// XdotoolCommand maps a UIAction onto an input-injection argv. Pure: the
// same action always yields the same command. Screenshot and unrecognized
// kinds map to a no-op; capture is a separate primitive, not an injected
// input.
func XdotoolCommand(a UIAction) []string {
	x, y := strconv.Itoa(a.X), strconv.Itoa(a.Y)

	switch a.Kind {
	case ActionClick:
		return []string{"xdotool", "mousemove", "--sync", x, y, "click", "1"}
	case ActionDoubleClick:
		return []string{"xdotool", "mousemove", "--sync", x, y, "click", "--repeat", "2", "1"}
	case ActionRightClick:
		return []string{"xdotool", "mousemove", "--sync", x, y, "click", "3"}
	case ActionMove:
		return []string{"xdotool", "mousemove", "--sync", x, y}
	case ActionType:
		return []string{"xdotool", "type", "--clearmodifiers", a.Text}
	case ActionKey:
		key := a.Key
		if key == "" {
			key = "Return"
		}
		return []string{"xdotool", "key", key}
	case ActionScroll:
		// wheel up/left is button 4, down/right is button 5
		button := "5"
		if a.ScrollDirection == "up" || a.ScrollDirection == "left" {
			button = "4"
		}
		amount := a.ScrollAmount
		if amount < 1 {
			amount = 1
		}
		return []string{"xdotool", "click", "--repeat", strconv.Itoa(amount), button}
	case ActionDrag:
		return []string{
			"xdotool", "mousemove", "--sync", x, y,
			"mousedown", "1",
			"mousemove", "--sync", strconv.Itoa(a.TargetX), strconv.Itoa(a.TargetY),
			"mouseup", "1",
		}
	case ActionWait:
		d := a.Duration
		if d <= 0 {
			d = 500 * time.Millisecond
		}
		return []string{"sleep", strconv.FormatFloat(d.Seconds(), 'f', -1, 64)}
	default:
		return []string{"true"}
	}
}

// UIActionResult reports one executed action. Success reflects only the
// exit status of the injected command. Whether the action achieved its
// intended visual outcome is the caller's judgment, made from the
// before/after screenshots.
type UIActionResult struct {
	Action           UIAction      `json:"action"`
	Success          bool          `json:"success"`
	ScreenshotBefore string        `json:"screenshot_before_b64,omitempty"`
	ScreenshotAfter  string        `json:"screenshot_after_b64,omitempty"`
	Error            string        `json:"error,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// GUIState is a screenshot plus display geometry. Element detection is a
// vision concern and happens upstream.
type GUIState struct {
	ScreenshotB64 string `json:"screenshot_b64"`
	ScreenWidth   int    `json:"screen_width"`
	ScreenHeight  int    `json:"screen_height"`
	Display       string `json:"display"`
}
