package taskgen

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Character is one roleplay persona a round can be built around.
type Character struct {
	Name        string
	Description string
}

// CharacterSet serves personas for the roleplay flow, one random pick
// per round.
type CharacterSet struct {
	characters []Character
}

func NewCharacterSet(characters ...Character) *CharacterSet {
	if len(characters) == 0 {
		characters = defaultCharacters
	}
	return &CharacterSet{characters: characters}
}

func (s *CharacterSet) Next() (Character, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(s.characters))))
	if err != nil {
		return Character{}, fmt.Errorf("pick character: %w", err)
	}
	return s.characters[n.Int64()], nil
}

var defaultCharacters = []Character{
	{
		Name: "Maren Holt",
		Description: "Maren Holt has captained the coastal ferry between Vestmark and the outer islands for " +
			"nineteen years. She reads the weather from the color of the swell and distrusts forecasts on " +
			"principle. Passengers know her for short answers and long silences. She keeps a logbook of every " +
			"crossing, including the ones she refused to make. Her father ran the same route before her, and " +
			"she still uses his charts even though the channel has been redredged twice. She takes her coffee " +
			"black and her disputes standing up. Off the water she restores old navigation lamps in a shed " +
			"behind the harbor office.",
	},
	{
		Name: "Professor Edric Vane",
		Description: "Edric Vane holds the chair of glaciology at the plateau institute and has spent thirty " +
			"summers on the eastern icefields. He lectures in a worn field jacket regardless of the occasion. " +
			"Colleagues find him generous with data and merciless with sloppy method. He can recite the melt " +
			"record back to 1911 from memory and does so when provoked. His office is a maze of core samples " +
			"and unanswered correspondence. He believes every measurement is a small act of honesty. Students " +
			"who survive his seminars tend to cite him for the rest of their careers.",
	},
	{
		Name: "Ilsa Brandt",
		Description: "Ilsa Brandt runs the map archive in the municipal library annex and knows the county's " +
			"geography better than most surveyors. She apprenticed as a paper conservator before the city hired " +
			"her. Visitors are handed cotton gloves before they are handed anything else. She speaks of maps as " +
			"witnesses and treats tears in them as injuries. Her own desk holds a hand-drawn chart of the " +
			"harbor as it was before the breakwater. She closes the archive precisely at five and stays two " +
			"hours after. Few people leave a conversation with her without an errand.",
	},
	{
		Name: "Tomas Rike",
		Description: "Tomas Rike is the last full-time fisherman still landing his catch at the old market " +
			"square. He left school at fourteen and has owned three boats, each named for the one before it. " +
			"He talks to tourists for free and charges journalists by the hour. His weather sense is famous and " +
			"occasionally wrong, which he admits only in winter. He mends his own nets with a speed that draws " +
			"a small crowd. He remembers the salting houses working and does not romanticize them. His opinion " +
			"of refrigerated shipping is unprintable.",
	},
}

// Roleplay responses are judged against these alongside the reward
// pipeline's own checks; they ride the wire so miners see the same bar
// they are scored on.
var messageCriteria = []string{
	"Your response must be 100 words or fewer.",
	"Stay in character for the entire message.",
	"Do not mention that you are playing a role.",
}

// NewMessageTask asks miners to write an in-character message from a
// character description trimmed to cutoff sentences.
func NewMessageTask(character Character, cutoff int) Task {
	description := TrimSentences(character.Description, cutoff)
	instruction := fmt.Sprintf("Your name is %s. Here is your character description: %s Write a message introducing yourself, in character.",
		character.Name, description)
	c := character
	return Task{
		ID:          uuid.NewString(),
		Name:        MessageTaskName,
		BaseText:    description,
		Instruction: instruction,
		Prompt:      instruction,
		Character:   &c,
		Criteria:    append([]string(nil), messageCriteria...),
	}
}
