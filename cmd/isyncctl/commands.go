package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and executor status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)

			health, err := client.health()
			if err != nil {
				return err
			}
			link, err := client.executorLink()
			if err != nil {
				return err
			}

			if outputJSON {
				printJSON(map[string]any{"daemon": health, "executor": link})
				return nil
			}
			fmt.Printf("Daemon:    ok=%v version=%s (%s)\n", health.OK, health.Version, baseURL)
			if link.Reachable {
				fmt.Printf("Executor:  reachable version=%s", link.Version)
				if link.LastSweep != "" {
					fmt.Printf(" last_sweep=%s", link.LastSweep)
				}
				if link.LastHeartbeat != "" {
					fmt.Printf(" last_heartbeat=%s", link.LastHeartbeat)
				}
				fmt.Println()
			} else {
				fmt.Printf("Executor:  unreachable (%s)", link.Error)
				if link.LastHeartbeat != "" {
					fmt.Printf(" last_heartbeat=%s", link.LastHeartbeat)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

// newSystemCmd creates the system command group
func newSystemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "System information commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show daemon host information",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			info, err := client.systemInfo()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(info)
				return nil
			}
			fmt.Printf("Hostname:      %s\n", info.Hostname)
			fmt.Printf("Platform:      %s\n", info.Platform)
			fmt.Printf("Kernel:        %s\n", info.Kernel)
			fmt.Printf("Arch:          %s\n", info.Arch)
			fmt.Printf("CPUs:          %d\n", info.CPUCount)
			fmt.Printf("Memory:        %s / %s\n", formatBytes(info.MemoryUsed), formatBytes(info.MemoryTotal))
			fmt.Printf("Daemon uptime: %s\n", (time.Duration(info.DaemonUp) * time.Second).String())
			return nil
		},
	})

	return cmd
}

// newJobsCmd creates the jobs command group
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and submit jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "recent",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			recs, err := client.recentJobs()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(recs)
				return nil
			}
			for _, rec := range recs {
				fmt.Printf("%-36s  %-22s  %-10s  %s\n", rec.ID, rec.Type, rec.Status, rec.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			view, err := client.getJob(args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(view)
				return nil
			}
			rec := view.Job
			fmt.Printf("ID:           %s\n", rec.ID)
			fmt.Printf("Type:         %s\n", rec.Type)
			fmt.Printf("Status:       %s\n", rec.Status)
			fmt.Printf("Requested by: %s\n", rec.RequestedBy)
			fmt.Printf("Created:      %s\n", rec.CreatedAt.Format(time.RFC3339))
			if rec.Error != "" {
				fmt.Printf("Error:        %s\n", rec.Error)
			}
			if len(rec.Result) > 0 {
				fmt.Printf("Result:       %s\n", rec.Result)
			}
			if len(view.SafetyResult) > 0 {
				fmt.Printf("Safety:       %s\n", view.SafetyResult)
			}
			return nil
		},
	})

	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job",
		Long: `Submit a job by type and target scope. Exactly one of --device,
--ip-range or --cluster must be given; --details reads the type-specific
payload from a JSON file, - for stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobType, _ := cmd.Flags().GetString("type")
			devices, _ := cmd.Flags().GetStringSlice("device")
			ipRange, _ := cmd.Flags().GetString("ip-range")
			clusterID, _ := cmd.Flags().GetString("cluster")
			detailsPath, _ := cmd.Flags().GetString("details")

			scope := map[string]any{}
			if len(devices) > 0 {
				scope["device_ids"] = devices
			}
			if ipRange != "" {
				scope["ip_range"] = ipRange
			}
			if clusterID != "" {
				scope["cluster_id"] = clusterID
			}

			req := map[string]any{"type": jobType, "scope": scope}
			if detailsPath != "" {
				var data []byte
				var err error
				if detailsPath == "-" {
					data, err = io.ReadAll(os.Stdin)
				} else {
					data, err = os.ReadFile(detailsPath)
				}
				if err != nil {
					return fmt.Errorf("read details: %w", err)
				}
				req["details"] = json.RawMessage(data)
			}

			client := newAPIClient(baseURL, operator)
			rec, err := client.submitJob(req)
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(rec)
				return nil
			}
			fmt.Printf("Submitted %s as %s\n", rec.Type, rec.ID)
			return nil
		},
	}
	submit.Flags().String("type", "", "job type (required)")
	submit.Flags().StringSlice("device", nil, "target device id (repeatable)")
	submit.Flags().String("ip-range", "", "target IP range")
	submit.Flags().String("cluster", "", "target cluster id")
	submit.Flags().String("details", "", "JSON file with the type-specific payload")
	_ = submit.MarkFlagRequired("type")
	cmd.AddCommand(submit)

	cmd.AddCommand(&cobra.Command{
		Use:   "wait <job-id>",
		Short: "Block until a job resolves",
		Long: `Block until the job completes, fails, or the daemon's polling budget
runs out. A budget timeout exits with the job still running; rerun wait to
keep watching.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			out, err := client.waitJob(args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(out)
				return nil
			}
			fmt.Printf("Job %s %s after %d polls (%dms)\n", out.Job.ID, out.Job.Status, out.Attempts, out.WaitedMS)
			if len(out.Result) > 0 {
				fmt.Printf("Result: %s\n", out.Result)
			}
			return nil
		},
	})

	return cmd
}

// newSafetyCmd creates the safety command group
func newSafetyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "safety",
		Short: "Cluster safety checks",
	}

	check := &cobra.Command{
		Use:   "check <cluster-id>",
		Short: "Run a cluster safety check and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			skips, _ := cmd.Flags().GetStringSlice("skip")
			client := newAPIClient(baseURL, operator)
			out, err := client.runSafetyCheck(args[0], skips)
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(out)
				return nil
			}
			printAssessment(out)
			return nil
		},
	}
	check.Flags().StringSlice("skip", nil, "host id to exclude from the update (repeatable)")
	cmd.AddCommand(check)

	cmd.AddCommand(&cobra.Command{
		Use:   "last <cluster-id>",
		Short: "Show the most recent safety check for a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			out, err := client.lastSafetyCheck(args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(out)
				return nil
			}
			printAssessment(out)
			return nil
		},
	})

	return cmd
}

func printAssessment(out *safetyCheck) {
	a := out.Assessment
	fmt.Printf("Cluster %s: %s (job %s)\n", a.ClusterID, strings.ToUpper(string(a.Verdict)), out.JobID)
	fmt.Printf("  safe_to_proceed=%v idrac_ready=%v hosts=%d/%d min=%d\n",
		a.SafeToProceed, a.AllDevicesReady, out.Result.HealthyHosts, out.Result.TotalHosts, out.Result.MinRequired)
	for _, reason := range a.Reasons {
		fmt.Printf("  blocker: %s\n", reason)
	}
	for _, warning := range a.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
	if len(out.Blockers.BlockedHosts) > 0 {
		fmt.Printf("  blocked hosts: %s\n", strings.Join(out.Blockers.BlockedHosts, ", "))
	}
	if len(out.Blockers.SkippedHosts) > 0 {
		fmt.Printf("  skipped hosts: %s\n", strings.Join(out.Blockers.SkippedHosts, ", "))
	}
}

// newInventoryCmd creates the inventory command group
func newInventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Browse the fleet inventory",
	}

	devices := &cobra.Command{
		Use:   "devices",
		Short: "List devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			clusterID, _ := cmd.Flags().GetString("cluster")
			client := newAPIClient(baseURL, operator)
			devs, err := client.listDevices(clusterID)
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(devs)
				return nil
			}
			for _, d := range devs {
				health := "unhealthy"
				if d.Healthy {
					health = "healthy"
				}
				fmt.Printf("%-12s  %-20s  %-15s  %-10s  %s\n", d.ID, d.Hostname, d.IdracIP, health, d.FirmwareVersion)
			}
			return nil
		},
	}
	devices.Flags().String("cluster", "", "only devices in this cluster")
	cmd.AddCommand(devices)

	cmd.AddCommand(&cobra.Command{
		Use:   "clusters",
		Short: "List clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			clusters, err := client.listClusters()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(clusters)
				return nil
			}
			for _, c := range clusters {
				fmt.Printf("%-12s  %-24s  hosts %d/%d (min %d)\n", c.ID, c.Name, c.HealthyHosts, c.TotalHosts, c.MinRequiredHosts)
			}
			return nil
		},
	})

	scan := &cobra.Command{
		Use:   "scan <ip-range>",
		Short: "Submit a discovery scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credSets, _ := cmd.Flags().GetStringSlice("credential-set")
			client := newAPIClient(baseURL, operator)
			rec, err := client.scan(args[0], credSets)
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(rec)
				return nil
			}
			fmt.Printf("Scan of %s submitted as %s\n", args[0], rec.ID)
			return nil
		},
	}
	scan.Flags().StringSlice("credential-set", nil, "credential set id to try, in order (repeatable)")
	cmd.AddCommand(scan)

	return cmd
}

// newOutletsCmd creates the outlets command group
func newOutletsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outlets",
		Short: "PDU outlet control",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List control surfaces for mapped devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			surfaces, err := client.listSurfaces()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(surfaces)
				return nil
			}
			for _, s := range surfaces {
				fmt.Printf("%-12s  %-10s  %d outlet(s)\n", s.DeviceID, s.Phase, len(s.Outlets))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <device-id>",
		Short: "Show one device's control surface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			s, err := client.getSurface(args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(s)
				return nil
			}
			fmt.Printf("Device %s: %s\n", s.DeviceID, s.Phase)
			if s.Pending != nil {
				fmt.Printf("  pending %s (%s)\n", s.Pending.Action, s.Pending.ID)
				fmt.Printf("  %s\n", s.Pending.Warning)
			}
			if s.LastError != "" {
				fmt.Printf("  last error: %s\n", s.LastError)
			}
			for _, o := range s.Outlets {
				fmt.Printf("  feed %s: %s outlet %d is %s\n", o.Feed, o.PDUHost, o.Outlet, o.State)
			}
			return nil
		},
	})

	for _, action := range []string{"on", "off", "reboot"} {
		action := action
		actionCmd := &cobra.Command{
			Use:   action + " <device-id>",
			Short: "Request " + action + " on a device's mapped outlets",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				outletID, _ := cmd.Flags().GetString("outlet")
				yes, _ := cmd.Flags().GetBool("yes")
				allFeeds := outletID == ""

				client := newAPIClient(baseURL, operator)
				s, err := client.requestOutletAction(args[0], outletID, action, allFeeds)
				if err != nil {
					return err
				}
				if s.Pending == nil {
					fmt.Printf("Device %s: %s started (job %s)\n", s.DeviceID, action, s.JobID)
					return nil
				}

				fmt.Println(s.Pending.Warning)
				if !yes {
					fmt.Printf("Confirm with: isyncctl outlets confirm %s %s\n", s.DeviceID, s.Pending.ID)
					return nil
				}
				s, err = client.confirmOutletAction(s.DeviceID, s.Pending.ID)
				if err != nil {
					return err
				}
				fmt.Printf("Device %s: %s confirmed (job %s)\n", s.DeviceID, action, s.JobID)
				return nil
			},
		}
		actionCmd.Flags().String("outlet", "", "single outlet mapping id instead of every feed")
		actionCmd.Flags().Bool("yes", false, "confirm destructive actions without a second command")
		cmd.AddCommand(actionCmd)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "confirm <device-id> <request-id>",
		Short: "Confirm a pending outlet action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			s, err := client.confirmOutletAction(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Device %s: confirmed (job %s)\n", s.DeviceID, s.JobID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <device-id> <request-id>",
		Short: "Cancel a pending outlet action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			s, err := client.cancelOutletAction(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Device %s: cancelled, surface is %s\n", s.DeviceID, s.Phase)
			return nil
		},
	})

	return cmd
}

// newSchedulesCmd creates the schedules command group
func newSchedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Recurring job schedules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			schedules, err := client.listSchedules()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(schedules)
				return nil
			}
			for _, sc := range schedules {
				next := "-"
				if sc.NextRun != nil {
					next = sc.NextRun.Format(time.RFC3339)
				}
				state := "disabled"
				if sc.Enabled {
					state = "enabled"
				}
				fmt.Printf("%-36s  %-24s  %-8s  next %s\n", sc.ID, sc.Name, state, next)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <schedule-id>",
		Short: "Fire a schedule immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			sc, err := client.runSchedule(args[0])
			if err != nil {
				return err
			}
			if sc.LastError != "" {
				return fmt.Errorf("schedule fired but submit failed: %s", sc.LastError)
			}
			fmt.Printf("Schedule %s fired, job %s\n", sc.Name, sc.LastJobID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <schedule-id>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL, operator)
			if err := client.deleteSchedule(args[0]); err != nil {
				return err
			}
			fmt.Println("Deleted")
			return nil
		},
	})

	return cmd
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("isyncctl %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
		},
	}
}

// newCompletionCmd creates the shell completion command
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish]",
		Short:     "Generate shell completion scripts",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletion(os.Stdout)
			case "zsh":
				return rootCmd.GenZshCompletion(os.Stdout)
			case "fish":
				return rootCmd.GenFishCompletion(os.Stdout, true)
			}
			return nil
		},
	}
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
