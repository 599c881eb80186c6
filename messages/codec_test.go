package messages

import (
	"encoding/json"
	"errors"
	"testing"

	"owngame/models"
)

func testUpdate() Update {
	return Update{
		Origin:     models.OriginTelegram,
		ChatID:     -1001,
		UserID:     77,
		MessageID:  12,
		CallbackID: "cb-1",
		Name:       "Ann",
		Username:   "ann",
	}
}

func TestEncodeDecodeKeepsConcreteType(t *testing.T) {
	msgs := []Message{
		SelectQuestion{Update: testUpdate(), QuestionID: 42},
		GiveCat{Update: testUpdate(), TargetUserID: 9},
		Answer{Update: testUpdate(), Text: "Paris"},
		WaitingPressTimeout{testUpdate()},
		CatInBag{testUpdate()},
	}
	for _, m := range msgs {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%s): %v", m.Kind(), err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", m.Kind(), err)
		}
		if got != m {
			t.Fatalf("round trip = %#v, want %#v", got, m)
		}
	}
}

func TestEnvelopeShape(t *testing.T) {
	data, err := Encode(SelectQuestion{Update: testUpdate(), QuestionID: 3})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["kind"] != "select_question" || raw["version"] != float64(1) {
		t.Fatalf("envelope = %v", raw)
	}
	payload := raw["payload"].(map[string]any)
	if payload["question_id"] != float64(3) || payload["chat_id"] != float64(-1001) {
		t.Fatalf("payload = %v", payload)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := []struct {
		name string
		data string
		want error
	}{
		{"unknown kind", `{"kind":"dance","version":1,"payload":{"origin":"vk","chat_id":1}}`, ErrUnknownKind},
		{"future version", `{"kind":"play","version":2,"payload":{"origin":"vk","chat_id":1}}`, ErrUnsupportedVersion},
		{"bad origin", `{"kind":"play","version":1,"payload":{"origin":"icq","chat_id":1}}`, ErrInvalidRoute},
		{"no chat", `{"kind":"play","version":1,"payload":{"origin":"vk"}}`, ErrInvalidRoute},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Decode([]byte(c.data)); !errors.Is(err, c.want) {
				t.Fatalf("Decode err = %v, want %v", err, c.want)
			}
		})
	}
}

func TestFromCallback(t *testing.T) {
	u := testUpdate()
	m, err := FromCallback(u, SelectQuestionData(15))
	if err != nil {
		t.Fatalf("FromCallback: %v", err)
	}
	sq, ok := m.(SelectQuestion)
	if !ok || sq.QuestionID != 15 {
		t.Fatalf("message = %#v, want SelectQuestion 15", m)
	}

	m, err = FromCallback(u, GiveCatData(-5))
	if err != nil {
		t.Fatalf("FromCallback: %v", err)
	}
	if gc, ok := m.(GiveCat); !ok || gc.TargetUserID != -5 {
		t.Fatalf("message = %#v, want GiveCat -5", m)
	}

	if m, _ := FromCallback(u, CallbackPress); m.Kind() != KindPressButton {
		t.Fatalf("kind = %s, want %s", m.Kind(), KindPressButton)
	}
	if _, err := FromCallback(u, "select_question:x"); err == nil {
		t.Fatal("bad question id accepted")
	}
	if _, err := FromCallback(u, CallbackNoop); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("noop err = %v, want %v", err, ErrUnknownKind)
	}
}

func TestFromText(t *testing.T) {
	u := testUpdate()
	if k := FromText(u, "/play@own_game_bot").Kind(); k != KindPlay {
		t.Fatalf("kind = %s, want %s", k, KindPlay)
	}
	if k := FromText(u, " /cancel ").Kind(); k != KindCancelGame {
		t.Fatalf("kind = %s, want %s", k, KindCancelGame)
	}
	a, ok := FromText(u, "Leo Tolstoy").(Answer)
	if !ok || a.Text != "Leo Tolstoy" {
		t.Fatalf("answer = %#v", a)
	}
	if r := u.Route().String(); r != "telegram:-1001" {
		t.Fatalf("route = %s", r)
	}
}

func TestInboundKinds(t *testing.T) {
	for _, k := range []Kind{KindPlay, KindJoin, KindPressButton, KindAnswer, KindGiveCat} {
		if !k.Inbound() {
			t.Fatalf("%s should be accepted from adapters", k)
		}
	}
	for _, k := range []Kind{KindStartRegistration, KindWaitingPressTimeout, KindQuestionFinished, KindGameFinished, KindCatInBag} {
		if k.Inbound() {
			t.Fatalf("%s must stay internal", k)
		}
	}
}
