package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	logging "nuke-rewards/internal/infra/log"

	"go.uber.org/zap"
)

// BlacklistData is the on-disk shape of the wallet blacklist file.
type BlacklistData struct {
	Wallets []string `json:"wallets"`
}

// LoadBlacklist reads the blacklist file. A missing or empty file is an empty list.
func LoadBlacklist(filePath string) ([]string, error) {
	if filePath == "" {
		return []string{}, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			logging.LogDebug("Blacklist file does not exist, returning empty list", zap.String("file", filePath))
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read blacklist file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return []string{}, nil
	}

	var blacklist BlacklistData
	if err := json.Unmarshal(data, &blacklist); err != nil {
		return nil, fmt.Errorf("failed to parse blacklist JSON: %w", err)
	}

	wallets := make([]string, 0, len(blacklist.Wallets))
	for _, w := range blacklist.Wallets {
		if w = strings.TrimSpace(w); w != "" {
			wallets = append(wallets, w)
		}
	}

	logging.LogDebug("Loaded blacklist from file", zap.String("file", filePath), zap.Int("count", len(wallets)))
	return wallets, nil
}

func SaveBlacklist(filePath string, wallets []string) error {
	data, err := json.MarshalIndent(BlacklistData{Wallets: wallets}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal blacklist JSON: %w", err)
	}

	if err := WriteFileAtomic(filePath, data); err != nil {
		return fmt.Errorf("failed to save blacklist: %w", err)
	}

	logging.LogInfo("Saved blacklist to file", zap.String("file", filePath), zap.Int("count", len(wallets)))
	return nil
}

// AddToBlacklist appends wallet unless it is already listed.
func AddToBlacklist(filePath, wallet string) error {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return fmt.Errorf("wallet cannot be empty")
	}

	wallets, err := LoadBlacklist(filePath)
	if err != nil {
		return fmt.Errorf("failed to load blacklist: %w", err)
	}

	if IsBlacklisted(wallet, wallets) {
		logging.LogDebug("Wallet already blacklisted", zap.String("wallet", wallet))
		return nil
	}

	return SaveBlacklist(filePath, append(wallets, wallet))
}

func RemoveFromBlacklist(filePath, wallet string) error {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return fmt.Errorf("wallet cannot be empty")
	}

	wallets, err := LoadBlacklist(filePath)
	if err != nil {
		return fmt.Errorf("failed to load blacklist: %w", err)
	}

	found := false
	updated := make([]string, 0, len(wallets))
	for _, w := range wallets {
		if w == wallet {
			found = true
			continue
		}
		updated = append(updated, w)
	}
	if !found {
		return fmt.Errorf("wallet not found in blacklist")
	}

	return SaveBlacklist(filePath, updated)
}

func IsBlacklisted(wallet string, wallets []string) bool {
	if wallet == "" {
		return false
	}
	for _, w := range wallets {
		if strings.TrimSpace(w) == wallet {
			return true
		}
	}
	return false
}
