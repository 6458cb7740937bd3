package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mewl/minipub/activitypub"
	"github.com/mewl/minipub/db"
	"github.com/mewl/minipub/util"
	"github.com/mewl/minipub/web"
)

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
	databaseFile   = "minipub.db"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	keys, err := loadOrGenerateKeys()
	if err != nil {
		log.Fatalln(err)
	}

	database, err := db.Open(util.ResolveFilePath(databaseFile))
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	privateKey, err := activitypub.ParsePrivateKey(keys.Private)
	if err != nil {
		log.Fatalln(err)
	}

	agent := activitypub.NewAgent(util.UserAgent(), privateKey)
	dispatcher := activitypub.NewDispatcher(database, agent, conf.Origin(), util.UserAgent(), nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	activitypub.NewWorker(database, agent).Start(ctx)

	server := web.NewServer(conf, database, dispatcher, keys.Public)
	go func() {
		if err := server.Run(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")
}

// loadOrGenerateKeys reads the instance RSA keypair from the config
// directory, generating and storing one on first boot. All local
// actors sign with this key.
func loadOrGenerateKeys() (*activitypub.KeyPair, error) {
	privatePath := util.ResolveFilePath(privateKeyFile)
	publicPath := util.ResolveFilePath(publicKeyFile)

	privatePem, privErr := os.ReadFile(privatePath)
	publicPem, pubErr := os.ReadFile(publicPath)
	if privErr == nil && pubErr == nil {
		return &activitypub.KeyPair{Private: string(privatePem), Public: string(publicPem)}, nil
	}

	log.Println("Generating instance keypair...")
	keys, err := activitypub.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(privatePath, []byte(keys.Private), 0600); err != nil {
		return nil, err
	}
	if err := os.WriteFile(publicPath, []byte(keys.Public), 0644); err != nil {
		return nil, err
	}
	log.Printf("Instance keypair stored at %s", privatePath)
	return keys, nil
}
