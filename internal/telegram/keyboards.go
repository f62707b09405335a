package telegram

import (
	"fmt"
	"sort"

	"github.com/go-telegram/bot/models"
)

// TypeKeyboard returns the output-format selection keyboard.
func TypeKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "AUDIO (mp3)", CallbackData: "type:mp3"},
				{Text: "VIDEO (mp4)", CallbackData: "type:mp4"},
			},
		},
	}
}

// AudioQualityKeyboard returns the bitrate selection keyboard, one button
// per configured tier with its coin cost.
func AudioQualityKeyboard(costs map[int]int64) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	for _, q := range sortedTiers(costs) {
		rows = append(rows, []models.InlineKeyboardButton{
			{
				Text:         fmt.Sprintf("%d kbps (%d coins)", q, costs[q]),
				CallbackData: fmt.Sprintf("audioq:%d", q),
			},
		})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// VideoQualityKeyboard returns the resolution selection keyboard.
func VideoQualityKeyboard(costs map[int]int64) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	for _, q := range sortedTiers(costs) {
		rows = append(rows, []models.InlineKeyboardButton{
			{
				Text:         fmt.Sprintf("%dp (%d coins)", q, costs[q]),
				CallbackData: fmt.Sprintf("videoq:%d", q),
			},
		})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func sortedTiers(costs map[int]int64) []int {
	tiers := make([]int, 0, len(costs))
	for q := range costs {
		tiers = append(tiers, q)
	}
	sort.Ints(tiers)
	return tiers
}
