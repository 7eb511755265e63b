// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// defaultVolume is bound to the "volume" config key: the VTOC volume
// number new DOS 3.3 images default to when --volume isn't passed on
// the command line.
var defaultVolume uint8

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "diskii",
	Short: "Operate on Apple II disk images and their contents",
	Long: `diskii is a commandline tool for working with Apple II disk
images.

Eventually, it aims to be a comprehensive disk image manipulation tool.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.diskii.yaml)")
	RootCmd.PersistentFlags().Uint8VarP(&defaultVolume, "volume", "v", 254, "default VTOC/volume-directory volume number for newly created images")
	viper.BindPFlag("volume", RootCmd.PersistentFlags().Lookup("volume"))
}

// initConfig reads in a config file and ENV variables, if set, the way
// every cobra-cli-scaffolded root command does: $HOME/.diskii.yaml,
// overridable by --config, with DISKII_-prefixed environment variables
// taking precedence over the file.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".diskii")
		}
	}
	viper.SetEnvPrefix("DISKII")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
	if v := viper.GetUint32("volume"); v > 0 && v < 256 {
		defaultVolume = uint8(v)
	}
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
