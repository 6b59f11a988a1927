package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/betbot/pairbot/internal/infrastructure/clob"
	"github.com/betbot/pairbot/pkg/config"
	"github.com/betbot/pairbot/pkg/secretstore"
)

// secrets 把 .env 里的钱包 / API 凭证导入加密密钥库，bot 通过 secrets.path 读取
func main() {
	var (
		inPath    = flag.String("in", ".env", "要导入的 .env 文件")
		dbPath    = flag.String("db", getenv("PAIRBOT_SECRET_DB", "data/secrets.badger"), "密钥库路径")
		secretKey = flag.String("secret-key", getenv("PAIRBOT_SECRET_KEY", ""), "加密 key（32 字节 hex/base64）")
		prefix    = flag.String("prefix", secretstore.DefaultPrefix, "库内 key 前缀")
		list      = flag.Bool("list", false, "只列出已保存的 key（值打码）")
		mnemonic  = flag.Bool("mnemonic", false, "从标准输入读取助记词，校验派生地址后保存为 WALLET_MNEMONIC")
		path      = flag.String("derivation-path", "m/44'/60'/0'/0/0", "助记词派生路径")
	)
	flag.Parse()

	key, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if key == nil {
		fatal(fmt.Errorf("需要加密 key：设置 PAIRBOT_SECRET_KEY 或传 -secret-key"))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: key,
		ReadOnly:      *list,
		Prefix:        *prefix,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	if *list {
		names, err := ss.Names()
		if err != nil {
			fatal(err)
		}
		for _, name := range names {
			v, _, err := ss.Get(name)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("%-24s %s\n", name, mask(v))
		}
		return
	}

	if *mnemonic {
		fmt.Fprintln(os.Stderr, "请输入助记词（12/15/18/21/24 个单词），输入完成后回车：")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		mn := strings.Join(strings.Fields(line), " ")
		key, err := clob.LoadPrivateKey(config.WalletConfig{Mnemonic: mn, DerivationPath: *path})
		if err != nil {
			fatal(err)
		}
		if err := ss.Set("WALLET_MNEMONIC", mn); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stderr, "已保存助记词，派生地址 %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		return
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}
	if err := ss.SetAll(kv); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "已导入 %d 项到 %s（前缀 %s）\n", len(kv), *dbPath, *prefix)
}

func mask(v string) string {
	if len(v) <= 6 {
		return strings.Repeat("*", len(v))
	}
	return v[:3] + strings.Repeat("*", len(v)-6) + v[len(v)-3:]
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
