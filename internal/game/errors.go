package game

import "errors"

var (
	ErrRoomNotFound    = errors.New("game room not found")
	ErrGameNotActive   = errors.New("game is not active")
	ErrAlreadyAnswered = errors.New("player already answered this question")
	ErrAlreadyInGame   = errors.New("player is already in a game")
	ErrNoQuestionDrawn = errors.New("no question drawn yet for player")
)
