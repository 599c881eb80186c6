package services

import (
	"fmt"
	"strings"

	"owngame/models"
)

const (
	textNeedLeader       = "We need a host."
	textNoGame           = "There is no game to cancel."
	textYouAreLeader     = "You are the host now."
	textJoined           = "You are registered."
	textLeft             = "You left the game."
	textLeadingTimeout   = "Nobody volunteered to host. The game is cancelled."
	textRegistrationLost = "Not enough players registered. The game is cancelled."
	textWhatSaysLeader   = "What does the host say?"
)

func textLeaderFound(mention string) string {
	return fmt.Sprintf("The host is %s.", mention)
}

func textRegistration(g *models.Game) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Registration. Players registered: %d.", len(g.Players))
	for i, p := range g.Players {
		fmt.Fprintf(&b, "\n%d. %s", i+1, userOf(p).Mention())
	}
	return b.String()
}

func textFirstPicker(mention string) string {
	return fmt.Sprintf("Fortune says %s picks the first question.", mention)
}

func textPick(mention string) string {
	return fmt.Sprintf("%s, pick a question.", mention)
}

func textQuestion(q *models.Question) string {
	return fmt.Sprintf("For %d: %s", q.Cost, q.Text)
}

func textRandomQuestion(q *models.Question) string {
	return "Time to pick is up. A question was chosen at random.\n" + textQuestion(q)
}

func textPressed(q *models.Question, mention string) string {
	return fmt.Sprintf("%s\n\n%s, you were first! Answer.", textQuestion(q), mention)
}

func textAccepted(mention string, cost int) string {
	return fmt.Sprintf("Excellent, %s! You get %d points.", mention, cost)
}

func textRejected(mention string, q *models.Question, reopened bool) string {
	s := fmt.Sprintf("%s, sorry, that is wrong. You lose %d points.", mention, q.Cost)
	if reopened {
		return s + " Anyone else?"
	}
	return s + " The correct answer was: " + q.Answer
}

func textAnswerTimeout(mention string, q *models.Question, reopened bool) string {
	s := fmt.Sprintf("%s, your time is up. You lose %d points.", mention, q.Cost)
	if reopened {
		return s + " Anyone else?"
	}
	return s + " The correct answer was: " + q.Answer
}

func textNobodyPressed(q *models.Question) string {
	return fmt.Sprintf("Nobody answered. The correct answer was: %s", q.Answer)
}

func textCatInBag(mention string, cost int) string {
	return fmt.Sprintf("Cat in the bag! %s, hand this %d point question to another player.", mention, cost)
}

func textCatGiven(mention string, q *models.Question, random bool) string {
	s := fmt.Sprintf("%s, the question is yours.\n%s", mention, textQuestion(q))
	if random {
		return "Time is up, the cat picked its own owner.\n" + s
	}
	return s
}

func textStandings(players []models.Player) string {
	var b strings.Builder
	for i, p := range players {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %d points", userOf(p).Mention(), p.Points)
	}
	return b.String()
}

func textRating(g *models.Game) string {
	return "Current standings:\n\n" + textStandings(g.Standings())
}

func textResults(winners, standings []models.Player) string {
	if len(winners) == 0 {
		return "GAME OVER!"
	}
	names := make([]string, len(winners))
	for i, w := range winners {
		names[i] = userOf(w).Mention()
	}
	label := "WINNER"
	if len(winners) > 1 {
		label = "WINNERS"
	}
	return fmt.Sprintf("GAME OVER!\nCONGRATULATIONS TO THE %s: %s!\n\n%s",
		label, strings.Join(names, ", "), textStandings(standings))
}

func textCancelled(standings []models.Player) string {
	if len(standings) == 0 {
		return "The game was cancelled."
	}
	return "The game was cancelled.\n\nStandings:\n" + textStandings(standings)
}

func textLeaderGone(standings []models.Player) string {
	return "Looks like the host has left us...\n\n" + textCancelled(standings)
}
