package services

import (
	"strconv"

	"owngame/bot"
	"owngame/messages"
	"owngame/models"
)

func becomeLeadingKeyboard() bot.Keyboard {
	return bot.Keyboard{{{Text: "I'll host", Data: messages.CallbackBecomeLeading}}}
}

// registrationKeyboard hides "join" once the game is full and shows "start"
// once enough players are in.
func registrationKeyboard(players, minPlayers, maxPlayers int) bot.Keyboard {
	leave := bot.Button{Text: "I'm out", Data: messages.CallbackCancelJoin}
	var kb bot.Keyboard
	if maxPlayers > 0 && players >= maxPlayers {
		kb = append(kb, []bot.Button{leave})
	} else {
		kb = append(kb, []bot.Button{{Text: "I'm in", Data: messages.CallbackJoin}, leave})
	}
	if players > 0 && players >= minPlayers {
		kb = append(kb, []bot.Button{{Text: "Start", Data: messages.CallbackStartGame}})
	}
	return kb
}

// boardKeyboard renders one title row and one row of costs per theme. Played
// cells stay in place as blank placeholders.
func boardKeyboard(g *models.Game) bot.Keyboard {
	played := make(map[uint]bool, len(g.SelectedQuestions))
	for _, id := range g.SelectedQuestions {
		played[id] = true
	}
	var kb bot.Keyboard
	for _, t := range g.Themes {
		kb = append(kb, []bot.Button{{Text: t.Title, Data: messages.CallbackNoop}})
		row := make([]bot.Button, 0, len(t.Questions))
		for _, q := range t.Questions {
			if played[q.ID] {
				row = append(row, bot.Button{Text: " ", Data: messages.CallbackNoop})
				continue
			}
			row = append(row, bot.Button{
				Text: strconv.Itoa(q.Cost),
				Data: messages.SelectQuestionData(q.ID),
			})
		}
		kb = append(kb, row)
	}
	return kb
}

func pressKeyboard() bot.Keyboard {
	return bot.Keyboard{{{Text: "Answer!", Data: messages.CallbackPress}}}
}

func checkerKeyboard() bot.Keyboard {
	return bot.Keyboard{
		{{Text: "Peek answer", Data: messages.CallbackPeek}},
		{
			{Text: "Correct", Data: messages.CallbackAccept},
			{Text: "Wrong", Data: messages.CallbackReject},
		},
	}
}

func catKeyboard(candidates []models.Player) bot.Keyboard {
	kb := make(bot.Keyboard, 0, len(candidates))
	for _, p := range candidates {
		kb = append(kb, []bot.Button{{Text: userOf(p).Mention(), Data: messages.GiveCatData(p.UserID)}})
	}
	return kb
}

func userOf(p models.Player) bot.User {
	return bot.User{ID: p.UserID, Name: p.Name, Username: p.Username}
}
