package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Vueroeruco/chzzk-recorder/internal/auth"
	"github.com/Vueroeruco/chzzk-recorder/internal/chzzk"
	"github.com/Vueroeruco/chzzk-recorder/internal/config"
)

// channelsCmd lists the session's followed channels, which is the easiest way
// to find the channel IDs to put in recorder.target_channels.
var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List followed channels",
	Long: `List the channels followed by the configured session, with their IDs
and current live state. Useful for filling recorder.target_channels.`,
	RunE: runChannels,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
}

func runChannels(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	store, err := auth.NewStore(cfg.Auth.SessionPath)
	if err != nil {
		slog.Default().Error("session unavailable", slog.String("error", err.Error()))
		return err
	}

	client := chzzk.NewClient(store)
	channels, err := client.GetFollowedChannels(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing followed channels: %w", err)
	}

	for _, ch := range channels {
		state := " "
		if ch.Live {
			state = "LIVE"
		}
		fmt.Printf("%-34s %-4s %s\n", ch.ChannelID, state, ch.ChannelName)
	}
	return nil
}
