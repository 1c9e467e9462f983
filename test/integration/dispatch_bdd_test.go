//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/binding"
	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
	"github.com/eliteGoblin/focusd/rc_agent/internal/infra"
	"github.com/eliteGoblin/focusd/rc_agent/internal/usecase"
	"github.com/eliteGoblin/focusd/rc_agent/test/fixtures"
)

// quietDesktop stands in for the desktop ports the suite does not drive.
type quietDesktop struct{}

func (quietDesktop) Lock() error                          { return nil }
func (quietDesktop) PowerAction(domain.ActionKind) error  { return nil }
func (quietDesktop) SetBrightness(int) error              { return nil }
func (quietDesktop) SetVolume(int) error                  { return nil }
func (quietDesktop) SendMediaKey(domain.MediaKey) error   { return nil }
func (quietDesktop) InjectKey(string, domain.KeyOp) error { return nil }
func (quietDesktop) Start(string) error                   { return nil }
func (quietDesktop) Stop(string) error                    { return nil }
func (quietDesktop) Status(string) domain.ServiceStatus   { return domain.ServiceUnknown }

type notifications struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notifications) Notify(msg string, _ domain.NotifyLevel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *notifications) All() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

const bindingsTemplate = `
command1: graceful
command1_checked: 1
command1_on_value: "%s"
command1_off_preset: interrupt
command1_window: hide

command2: stubborn
command2_checked: 1
command2_on_value: "%s"
command2_off_preset: interrupt
command2_window: hide

command3: immortal
command3_checked: 1
command3_on_value: "%s"
command3_off_preset: interrupt
command3_window: hide

command4: workers
command4_name: Workers
command4_checked: 1
command4_on_value: "%s"
command4_off_preset: kill
command4_window: hide

application1: editor
application1_name: Editor
application1_checked: 1
application1_on_value: "%s"
application1_off_preset: kill
`

var _ = Describe("Dispatcher with real processes", func() {
	var (
		tmpDir     string
		tasks      *fixtures.FakeTasks
		pm         *infra.ProcessManagerImpl
		notes      *notifications
		store      *infra.EncryptedStore
		dispatcher *usecase.DispatcherImpl
		program    string
		ctx        context.Context
	)

	dispatch := func(topic, payload string) domain.DispatchResult {
		return dispatcher.Dispatch(ctx, topic, []byte(payload))
	}

	waitStarted := func(name string, n int) {
		Eventually(func() int { return tasks.Count(name, "START") }, 3*time.Second, 20*time.Millisecond).
			Should(BeNumerically(">=", n))
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "rcagent-integration-*")
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()

		tasks = fixtures.NewFakeTasks(tmpDir)
		graceful, err := tasks.Create("graceful", fixtures.Graceful)
		Expect(err).NotTo(HaveOccurred())
		stubborn, err := tasks.Create("stubborn", fixtures.Stubborn)
		Expect(err).NotTo(HaveOccurred())
		immortal, err := tasks.Create("immortal", fixtures.Immortal)
		Expect(err).NotTo(HaveOccurred())
		workers, err := tasks.Create("workers", fixtures.Stubborn)
		Expect(err).NotTo(HaveOccurred())

		program = filepath.Join(tmpDir, "editor-app.sh")
		Expect(os.WriteFile(program, []byte("#!/bin/sh\nwhile true; do sleep 0.1; done\n"), 0755)).To(Succeed())

		yaml := fmt.Sprintf(bindingsTemplate, graceful, stubborn, immortal, workers, program)
		snap, err := binding.Parse([]byte(yaml), "yaml")
		Expect(err).NotTo(HaveOccurred())

		logger := zap.NewNop()
		bindings := binding.NewStore(snap, logger)
		Expect(bindings.Skipped()).To(BeEmpty())
		Expect(bindings.Len()).To(Equal(5))

		runner := &infra.RealCommandRunner{}
		pm = infra.NewProcessManager()
		terminator := usecase.NewTerminator(pm, infra.NewEscalationSteps(pm, runner),
			infra.NewKillUtilityStep(runner), 400*time.Millisecond, logger)

		notes = &notifications{}
		desktop := quietDesktop{}
		ports := usecase.Ports{
			Power:     desktop,
			Display:   desktop,
			Audio:     desktop,
			Media:     desktop,
			Keys:      desktop,
			Services:  desktop,
			Launcher:  infra.NewLauncher(infra.NewPathResolverWithHome(tmpDir), logger),
			Spawner:   infra.NewSpawner(tmpDir, logger),
			Processes: pm,
			Programs:  infra.NewProgramTerminator(pm, runner, infra.NewPathResolverWithHome(tmpDir), time.Second, logger),
			Notifier:  notes,
		}

		store, err = infra.OpenStore(filepath.Join(tmpDir, ".key"), filepath.Join(tmpDir, "rcagent.db"))
		Expect(err).NotTo(HaveOccurred())

		dispatcher = usecase.NewDispatcher(bindings, ports, terminator, logger).
			WithMetrics(infra.NewMetrics()).
			WithJournal(store)
	})

	AfterEach(func() {
		for _, topic := range []string{"graceful", "stubborn", "immortal", "workers"} {
			for _, rec := range dispatcher.Tracker().Live(topic) {
				_ = pm.Kill(rec.PID)
			}
		}
		_ = store.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("Interrupt escalation", func() {
		Context("when the command exits on SIGINT", func() {
			It("should stop at the interrupt step", func() {
				r := dispatch("graceful", "on")
				Expect(r.Err).NotTo(HaveOccurred())
				Expect(r.SpawnedPID).To(BeNumerically(">", 0))
				waitStarted("graceful", 1)

				r = dispatch("graceful", "off")
				Expect(r.Err).NotTo(HaveOccurred())
				Expect(r.Message).To(ContainSubstring("interrupt"))
				Expect(tasks.Count("graceful", "INT")).To(BeNumerically(">=", 1))
				Expect(pm.IsRunning(r.SpawnedPID)).To(BeFalse())
				Expect(dispatcher.Tracker().Len("graceful")).To(Equal(0))
			})
		})

		Context("when the command traps SIGINT", func() {
			It("should escalate to terminate", func() {
				on := dispatch("stubborn", "on")
				Expect(on.Err).NotTo(HaveOccurred())
				waitStarted("stubborn", 1)

				r := dispatch("stubborn", "off")
				Expect(r.Err).NotTo(HaveOccurred())
				Expect(r.Message).To(ContainSubstring("terminate"))
				Expect(tasks.Count("stubborn", "INT")).To(BeNumerically(">=", 1))
				Expect(pm.IsRunning(on.SpawnedPID)).To(BeFalse())
			})
		})

		Context("when the command ignores SIGINT and SIGTERM", func() {
			It("should escalate to the kill utility", func() {
				on := dispatch("immortal", "on")
				Expect(on.Err).NotTo(HaveOccurred())
				waitStarted("immortal", 1)

				r := dispatch("immortal", "off")
				Expect(r.Err).NotTo(HaveOccurred())
				Expect(r.Message).To(ContainSubstring("kill-utility"))
				Expect(tasks.Count("immortal", "TERM")).To(BeNumerically(">=", 1))
				Expect(pm.IsRunning(on.SpawnedPID)).To(BeFalse())
			})
		})

		Context("when several instances run", func() {
			It("should interrupt only the most recent one", func() {
				first := dispatch("graceful", "on")
				second := dispatch("graceful", "on")
				waitStarted("graceful", 2)
				Expect(dispatcher.Tracker().Len("graceful")).To(Equal(2))

				r := dispatch("graceful", "off")
				Expect(r.Err).NotTo(HaveOccurred())
				Expect(r.Message).To(ContainSubstring(fmt.Sprintf("pid %d", second.SpawnedPID)))
				Expect(pm.IsRunning(first.SpawnedPID)).To(BeTrue())
				Expect(dispatcher.Tracker().Len("graceful")).To(Equal(1))
			})
		})

		Context("when nothing is running", func() {
			It("should succeed without doing anything", func() {
				r := dispatch("graceful", "off")
				Expect(r.Err).NotTo(HaveOccurred())
				Expect(r.Message).To(HavePrefix("Nothing to interrupt"))
			})
		})
	})

	Describe("Force kill", func() {
		It("should kill every tracked instance", func() {
			pids := []int{
				dispatch("workers", "on").SpawnedPID,
				dispatch("workers", "on").SpawnedPID,
				dispatch("workers", "on").SpawnedPID,
			}
			waitStarted("workers", 3)

			r := dispatch("workers", "off")
			Expect(r.Err).NotTo(HaveOccurred())
			Expect(r.Message).To(Equal("Killed 3 task(s) for Workers"))
			for _, pid := range pids {
				Eventually(func() bool { return pm.IsRunning(pid) }, 2*time.Second, 20*time.Millisecond).Should(BeFalse())
			}
			Expect(dispatcher.Tracker().Len("workers")).To(Equal(0))
		})

		It("should report a missing process when nothing was started", func() {
			r := dispatch("workers", "off")
			Expect(r.ErrorKind).To(Equal(domain.ErrKindProcessNotFound))
		})
	})

	Describe("Program bindings", func() {
		It("should launch the target and stop it by path", func() {
			r := dispatch("editor", "on")
			Expect(r.Err).NotTo(HaveOccurred())
			Expect(r.Message).To(Equal("Launched Editor"))
			launched := r.SpawnedPID
			Eventually(func() bool { return pm.IsRunning(launched) }, time.Second, 20*time.Millisecond).Should(BeTrue())

			r = dispatch("editor", "off")
			Expect(r.Err).NotTo(HaveOccurred())
			Expect(r.Message).To(HavePrefix("Stopped Editor ("))
			Eventually(func() bool { return pm.IsRunning(launched) }, 3*time.Second, 20*time.Millisecond).Should(BeFalse())
		})
	})

	Describe("Reporting", func() {
		It("should journal every dispatch in the encrypted store", func() {
			dispatch("nope", "on")
			dispatch("graceful", "on#500")
			last := dispatch("graceful", "on")
			Expect(last.Err).NotTo(HaveOccurred())

			entries, err := store.Recent(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].Outcome).To(Equal("ok"))
			Expect(entries[1].ErrorKind).To(Equal(domain.ErrKindParse))
			Expect(entries[2].ErrorKind).To(Equal(domain.ErrKindUnknownTopic))
		})

		It("should notify the user with friendly messages", func() {
			r := dispatch("graceful", "on")
			Expect(r.Err).NotTo(HaveOccurred())

			Expect(notes.All()).To(ContainElement(WithTransform(func(s string) bool {
				return strings.HasPrefix(s, "Started graceful (pid ")
			}, BeTrue())))
		})
	})
})
