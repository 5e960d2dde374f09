package bot

import (
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/rainbot/rainbot/internal/cases"
	"github.com/rainbot/rainbot/internal/clock"
	"github.com/rainbot/rainbot/internal/config"
	"github.com/rainbot/rainbot/internal/detection"
	"github.com/rainbot/rainbot/internal/enforce"
	"github.com/rainbot/rainbot/internal/health"
	"github.com/rainbot/rainbot/internal/permissions"
	"github.com/rainbot/rainbot/internal/scheduler"
	"github.com/rainbot/rainbot/internal/store"
)

type Bot struct {
	Session   *discordgo.Session
	Store     store.ConfigStore
	Enforcer  *enforce.Enforcer
	Scheduler *scheduler.Scheduler
	Health    *health.Aggregator
	Logger    *zap.SugaredLogger

	stop chan struct{}
}

// New builds the bot and its enforcement stack. Nothing connects until
// Start.
func New(st store.ConfigStore, windows detection.WindowStore, sink health.Sink, logger *zap.SugaredLogger) (*Bot, error) {
	discord, err := discordgo.New("Bot " + config.DiscordToken)
	if err != nil {
		return nil, err
	}
	discord.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent

	aggregator := health.NewAggregator(sink, "discord")
	exec := aggregator.Wrap(NewExecutor(discord, st, config.NotifyRatePerSecond))
	ledger := cases.NewLedger(st)
	levels := permissions.NewResolver(config.BotOwnerIDs)
	sched := scheduler.New(st, exec, clock.Real{}, ledger, logger.Named("scheduler"))

	bot := &Bot{
		Session:   discord,
		Store:     st,
		Scheduler: sched,
		Health:    aggregator,
		Logger:    logger,
		stop:      make(chan struct{}),
	}
	bot.Enforcer = &enforce.Enforcer{
		Store:     st,
		Ledger:    ledger,
		Scheduler: sched,
		Exec:      exec,
		Levels:    levels,
		Commands:  enforce.Commands(),
		Detector:  detection.NewEngine(windows, Invites{session: discord}, levels, logger.Named("detection")),
		Clock:     clock.Real{},
		Logger:    logger.Named("enforce"),
		GuildName: bot.guildName,
	}

	bot.registerHandlers()

	return bot, nil
}

func (b *Bot) Start() error {
	err := b.Session.Open()
	if err != nil {
		return err
	}

	b.Health.Start(
		time.Duration(config.HealthFlushSeconds)*time.Second,
		time.Duration(config.HeartbeatIntervalMinutes)*time.Minute,
		b.heartbeatDetails,
	)
	go b.updateStatusPeriodically()

	return nil
}

func (b *Bot) Stop() {
	close(b.stop)
	b.Scheduler.Stop()
	b.Health.Stop()
	b.Session.Close()
}

func (b *Bot) registerHandlers() {
	b.Session.AddHandler(b.ready)
	b.Session.AddHandler(b.messageCreate)
	b.Session.AddHandler(b.interactionCreate)
	b.Session.AddHandler(b.guildCreate)
	b.Session.AddHandler(b.guildDelete)
}

func (b *Bot) guildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	log.Printf("Guild available: %s (%s)", event.Guild.Name, event.Guild.ID)
}

func (b *Bot) guildDelete(s *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Unavailable {
		log.Printf("Guild %s became unavailable.", event.ID)
		return
	}
	log.Printf("Bot removed from guild: %s. Dropping cached config.", event.ID)
	if cached, ok := b.Store.(*store.CachedStore); ok {
		cached.Purge(event.ID)
	}
}

func (b *Bot) heartbeatDetails() string {
	return fmt.Sprintf("guilds=%d pending=%d", len(b.Session.State.Guilds), b.Scheduler.Pending())
}

func (b *Bot) updateStatusPeriodically() {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.updateBotStatus()
		case <-b.stop:
			return
		}
	}
}

func (b *Bot) updateBotStatus() {
	serverCount := len(b.Session.State.Guilds)
	status := fmt.Sprintf("Moderating %d servers", serverCount)
	err := b.Session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{
			{
				Name: status,
				Type: discordgo.ActivityTypeWatching,
			},
		},
	})
	if err != nil {
		log.Printf("Error updating status: %v", err)
	}
}
